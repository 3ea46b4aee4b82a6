// Package journaltest runs journals against a fake clock in temporary
// directories and compares segment files against a compact byte notation.
package journaltest

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/andreyvit/enumdb/journal"
)

// Start is the fake clock reading of every new TestJournal.
var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type TestJournal struct {
	*journal.Journal

	T   testing.TB
	Dir string

	now time.Time
}

// Writable returns a journal in a fresh temporary directory, ready for writing.
func Writable(t *testing.T, o journal.Options) *TestJournal {
	return Open(t, t.TempDir(), o, true)
}

// Open returns a journal over dir, e.g. to reopen a directory used by an
// earlier TestJournal. A writable journal is finished on test cleanup.
func Open(t *testing.T, dir string, o journal.Options, writable bool) *TestJournal {
	j := &TestJournal{T: t, Dir: dir, now: Start}
	o.FileName = "j*.wal"
	o.Now = func() time.Time { return j.now }
	o.Logger = slog.New(slog.NewTextHandler(testLog{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	o.Verbose = true

	j.Journal = journal.New(dir, o)
	if !writable {
		return j
	}
	j.StartWriting()
	t.Cleanup(func() {
		if err := j.FinishWriting(); err != nil {
			t.Error(err)
		}
	})
	return j
}

// Records replays the journal and returns copies of all record payloads.
func (j *TestJournal) Records() []string {
	var result []string
	err := j.Replay(func(rec journal.Record) error {
		result = append(result, string(rec.Data))
		return nil
	})
	if err != nil {
		j.T.Fatalf("Replay: %v", err)
	}
	return result
}

// Eq checks the contents of a segment file against Expand(expected...).
func (j *TestJournal) Eq(fileName string, expected ...string) {
	j.T.Helper()
	bytesEq(j.T, j.Data(fileName), Expand(expected...))
}

// Data returns the contents of a file in the journal directory, or nil if it
// does not exist.
func (j *TestJournal) Data(fileName string) []byte {
	b, err := os.ReadFile(filepath.Join(j.Dir, fileName))
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		j.T.Fatalf("read %s: %v", fileName, err)
	}
	return b
}

// Advance moves the fake clock forward.
func (j *TestJournal) Advance(d time.Duration) {
	j.now = j.now.Add(d)
}

// FileNames lists the journal directory, sorted.
func (j *TestJournal) FileNames() []string {
	entries, err := os.ReadDir(j.Dir)
	if err != nil {
		j.T.Fatalf("list %s: %v", j.Dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names
}

type testLog struct{ t testing.TB }

func (w testLog) Write(buf []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(buf), "\n"))
	return len(buf), nil
}

// Expand builds bytes from space-separated elements:
//
//	80_00_92_65   hex; '_' separates bytes, so "1_2" is 01 02
//	#300          uvarint
//	'text         literal bytes
//	1..2          1 and 2 with zero bytes between them filling 4 bytes
//	1...2         the same, filling 8 bytes
//	0*32          the element repeated 32 times
//	0/flags       everything after '/' is a note
func Expand(specs ...string) []byte {
	var out []byte
	for _, spec := range specs {
		for _, elem := range strings.Fields(spec) {
			var err error
			out, err = appendElem(out, elem)
			if err != nil {
				panic(fmt.Errorf("journaltest: element %q: %w", elem, err))
			}
		}
	}
	return out
}

func appendElem(out []byte, elem string) ([]byte, error) {
	body, _, _ := strings.Cut(elem, "/")
	if body == "" {
		return out, nil
	}

	body, countStr, repeated := strings.Cut(body, "*")
	count := 1
	if repeated {
		n, err := strconv.Atoi(countStr)
		if err != nil {
			return nil, fmt.Errorf("bad repeat count: %w", err)
		}
		count = n
	}

	width := 0
	left, right, ok := strings.Cut(body, "...")
	if ok {
		width = 8
	} else if left, right, ok = strings.Cut(body, ".."); ok {
		width = 4
	}
	l, err := decodeAtom(left)
	if err != nil {
		return nil, err
	}
	r, err := decodeAtom(right)
	if err != nil {
		return nil, err
	}

	for range count {
		out = append(out, l...)
		if pad := width - len(l) - len(r); pad > 0 {
			out = append(out, make([]byte, pad)...)
		}
		out = append(out, r...)
	}
	return out, nil
}

func decodeAtom(s string) ([]byte, error) {
	if dec, ok := strings.CutPrefix(s, "#"); ok {
		v, err := strconv.ParseUint(dec, 10, 64)
		if err != nil {
			return nil, err
		}
		return binary.AppendUvarint(nil, v), nil
	}
	if text, ok := strings.CutPrefix(s, "'"); ok {
		return []byte(text), nil
	}

	var out []byte
	for _, group := range strings.Split(s, "_") {
		// a trailing lone nibble is a byte of its own
		if len(group)%2 == 1 {
			group = group[:len(group)-1] + "0" + group[len(group)-1:]
		}
		b, err := hex.DecodeString(group)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func bytesEq(t testing.TB, got, wanted []byte) bool {
	t.Helper()
	if bytes.Equal(got, wanted) {
		return true
	}
	off := min(len(got), len(wanted))
	for i := range off {
		if got[i] != wanted[i] {
			off = i
			break
		}
	}
	t.Errorf("** got:\n%s\nwanted:\n%s\nfirst difference at 0x%x (%d)", hex.Dump(got), hex.Dump(wanted), off, off)
	return false
}
