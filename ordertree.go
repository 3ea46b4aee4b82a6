package enumdb

import "bytes"

type Color uint8

const (
	Red Color = iota
	Black
)

func (c Color) String() string {
	if c == Red {
		return "red"
	}
	return "black"
}

// Node is a node of the order index, a persistent red-black tree keyed by
// the bytes a KeyProbe returns for Index. A nil *Node is the empty tree.
//
// Nodes are never modified once built: insertion copies the path from the
// root to the new leaf and shares everything else, so any root pointer held
// by a caller keeps describing the same tree forever.
type Node struct {
	Color Color
	Left  *Node
	Index uint64
	Right *Node
}

// KeyProbe resolves a node index to its key bytes.
type KeyProbe interface {
	Probe(index uint64) []byte
}

// Find returns the index stored for key.
func Find(t *Node, probe KeyProbe, key []byte) (uint64, bool) {
	for t != nil {
		c := bytes.Compare(key, probe.Probe(t.Index))
		switch {
		case c < 0:
			t = t.Left
		case c > 0:
			t = t.Right
		default:
			return t.Index, true
		}
	}
	return 0, false
}

// Insert returns a tree that also maps key to index, and the index now
// associated with key. If key is already present, the original tree and the
// existing index are returned.
func Insert(t *Node, probe KeyProbe, key []byte, index uint64) (*Node, uint64) {
	r, found := ins(t, probe, key, index)
	if r.Color == Red {
		r = &Node{Black, r.Left, r.Index, r.Right}
	}
	return r, found
}

func ins(t *Node, probe KeyProbe, key []byte, index uint64) (*Node, uint64) {
	if t == nil {
		return &Node{Red, nil, index, nil}, index
	}
	c := bytes.Compare(key, probe.Probe(t.Index))
	switch {
	case c < 0:
		l, found := ins(t.Left, probe, key, index)
		if l == t.Left {
			return t, found
		}
		if t.Color == Black {
			return lbalance(l, t.Index, t.Right), found
		}
		return &Node{Red, l, t.Index, t.Right}, found
	case c > 0:
		r, found := ins(t.Right, probe, key, index)
		if r == t.Right {
			return t, found
		}
		if t.Color == Black {
			return rbalance(t.Left, t.Index, r), found
		}
		return &Node{Red, t.Left, t.Index, r}, found
	default:
		return t, t.Index
	}
}

// lbalance builds a black node over l, y, r, resolving a red-red violation
// in l by rotating into a red node with two black children.
func lbalance(l *Node, y uint64, r *Node) *Node {
	if isRed(l) {
		if isRed(l.Left) {
			a := l.Left
			return &Node{Red,
				&Node{Black, a.Left, a.Index, a.Right},
				l.Index,
				&Node{Black, l.Right, y, r}}
		}
		if isRed(l.Right) {
			b := l.Right
			return &Node{Red,
				&Node{Black, l.Left, l.Index, b.Left},
				b.Index,
				&Node{Black, b.Right, y, r}}
		}
	}
	return &Node{Black, l, y, r}
}

// rbalance mirrors lbalance for a violation in r.
func rbalance(l *Node, y uint64, r *Node) *Node {
	if isRed(r) {
		if isRed(r.Left) {
			b := r.Left
			return &Node{Red,
				&Node{Black, l, y, b.Left},
				b.Index,
				&Node{Black, b.Right, r.Index, r.Right}}
		}
		if isRed(r.Right) {
			c := r.Right
			return &Node{Red,
				&Node{Black, l, y, r.Left},
				r.Index,
				&Node{Black, c.Left, c.Index, c.Right}}
		}
	}
	return &Node{Black, l, y, r}
}

func isRed(t *Node) bool {
	return t != nil && t.Color == Red
}

// Len returns the number of nodes in t.
func Len(t *Node) uint64 {
	if t == nil {
		return 0
	}
	return Len(t.Left) + 1 + Len(t.Right)
}

// Walk calls fn for every node in key order, stopping early if fn returns
// false. Returns false if stopped.
func Walk(t *Node, fn func(n *Node) bool) bool {
	if t == nil {
		return true
	}
	return Walk(t.Left, fn) && fn(t) && Walk(t.Right, fn)
}
