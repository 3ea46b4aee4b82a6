package enumdb

import (
	"fmt"
	"strings"
	"time"
)

type DumpFlags uint64

const (
	DumpHeader = DumpFlags(1 << iota)
	DumpStats
	DumpKeys
	DumpTree
	DumpSnapshots

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)

	indentStep = "  "
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the database for debugging and tests.
func (db *DB) Dump(f DumpFlags) string {
	var buf strings.Builder
	if f.Contains(DumpHeader) {
		fmt.Fprintln(&buf, dumpSep1)
		fmt.Fprintf(&buf, "enumdb %s (%d keys)\n", db.ID(), db.Size())
	}
	if f.Contains(DumpStats) {
		s := db.Stats()
		fmt.Fprintf(&buf, "stats: key_bytes = %d, data_pages = %d, dir_pages = %d, last_checkpoint = %d, pending = %d\n", s.KeyBytes, s.DataPages, s.DirPages, s.LastCheckpoint, s.PendingKeys)
	}
	if f.Contains(DumpSnapshots) {
		infos, err := db.Snapshots()
		if err != nil {
			fmt.Fprintf(&buf, "snapshots: ** ERROR: %v\n", err)
		}
		for _, info := range infos {
			m := &info.Manifest
			fmt.Fprintf(&buf, "snapshot.%d = %d keys, %d bytes, %s, %s\n", info.Seq, m.Count, m.Cursor, m.Compression, m.Created.UTC().Format(time.RFC3339))
		}
	}
	err := db.View(func(s Snapshot) error {
		if f.Contains(DumpKeys) {
			fmt.Fprintln(&buf, dumpSep2)
			dumpKeys(&buf, s.Store)
		}
		if f.Contains(DumpTree) {
			fmt.Fprintln(&buf, dumpSep2)
			dumpTree(&buf, "", s.Tree, s.Store)
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(&buf, "** ERROR: %v\n", err)
	}
	return buf.String()
}

func dumpKeys(w *strings.Builder, ks *KeyStore) {
	for i := range ks.Count() {
		pos, n := ks.record(i)
		fmt.Fprintf(w, "%d @%d+%d = %s\n", i, pos, n, loggableKey(ks.Probe(i)))
	}
}

// dumpTree prints t sideways, right subtree first, so that the output reads
// like the tree rotated 90 degrees counterclockwise.
func dumpTree(w *strings.Builder, indent string, t *Node, probe KeyProbe) {
	if t == nil {
		return
	}
	dumpTree(w, indent+indentStep, t.Right, probe)
	fmt.Fprintf(w, "%s%s %d %s\n", indent, colorLetter(t.Color), t.Index, loggableKey(probe.Probe(t.Index)))
	dumpTree(w, indent+indentStep, t.Left, probe)
}

func colorLetter(c Color) string {
	switch c {
	case Red:
		return "R"
	case Black:
		return "B"
	default:
		return "?"
	}
}

// loggableKey shows printable keys as quoted strings and the rest as hex.
func loggableKey(k []byte) string {
	for _, b := range k {
		if b < 0x20 || b >= 0x7F {
			return "0x" + hexstr(k)
		}
	}
	return fmt.Sprintf("%q", k)
}
