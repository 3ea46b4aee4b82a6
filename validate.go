package enumdb

import "bytes"

// CheckSnapshot verifies that s describes a valid enumeration. Every directory
// record must lie within the data cursor. The tree must be a red-black tree
// with exactly one node per stored key and strictly increasing keys.
func CheckSnapshot(s Snapshot) error {
	if s.Store == nil {
		return corruptf(0, nil, "missing key store")
	}
	count := s.Store.Count()
	if err := checkRecords(s.Store); err != nil {
		return err
	}

	if isRed(s.Tree) {
		return corruptf(s.Tree.Index, nil, "red root")
	}
	if _, err := checkColors(s.Tree); err != nil {
		return err
	}

	var (
		n    uint64
		prev []byte
		err  error
	)
	Walk(s.Tree, func(t *Node) bool {
		if t.Index >= count {
			err = corruptf(t.Index, ErrOutOfRange, "index beyond %d stored keys", count)
			return false
		}
		key := s.Store.Probe(t.Index)
		if n > 0 && bytes.Compare(prev, key) >= 0 {
			err = corruptf(t.Index, nil, "key %s is not greater than its predecessor %s", hexstr(key), hexstr(prev))
			return false
		}
		prev = key
		n++
		return true
	})
	if err != nil {
		return err
	}
	if n != count {
		return corruptf(0, nil, "tree has %d nodes, store has %d keys", n, count)
	}
	return nil
}

// checkColors returns the black height of t.
func checkColors(t *Node) (int, error) {
	if t == nil {
		return 1, nil
	}
	if t.Color != Red && t.Color != Black {
		return 0, corruptf(t.Index, nil, "invalid color %d", t.Color)
	}
	if t.Color == Red && (isRed(t.Left) || isRed(t.Right)) {
		return 0, corruptf(t.Index, nil, "red node with a red child")
	}
	lh, err := checkColors(t.Left)
	if err != nil {
		return 0, err
	}
	rh, err := checkColors(t.Right)
	if err != nil {
		return 0, err
	}
	if lh != rh {
		return 0, corruptf(t.Index, nil, "black height %d on the left, %d on the right", lh, rh)
	}
	if t.Color == Black {
		lh++
	}
	return lh, nil
}

// BlackHeight returns the number of black nodes on every path from t to a
// leaf, counting the empty leaf, or -1 if t violates the red-black rules.
func BlackHeight(t *Node) int {
	h, err := checkColors(t)
	if err != nil {
		return -1
	}
	return h
}

// checkRecords makes sure Probe cannot slice outside the data in use.
func checkRecords(ks *KeyStore) error {
	for i := range ks.count {
		pos, n := ks.record(i)
		if end := pos + n; end < pos || end > ks.cursor {
			return corruptf(i, nil, "record %d+%d is past the data cursor %d", pos, n, ks.cursor)
		}
	}
	return nil
}
