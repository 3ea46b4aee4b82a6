package enumdb

import "sync"

// journalRecordPool holds buffers for encoding journal records; the journal
// copies record bytes out before WriteRecord returns.
var journalRecordPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 1024)
	},
}

func releaseJournalRecord(b []byte) {
	if cap(b) > 65536 {
		return
	}
	journalRecordPool.Put(b[:0])
}
