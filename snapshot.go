package enumdb

import (
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/enumdb/segment"
)

const snapshotVersion = 1

// maxTreeDepth bounds decoding recursion; a red-black tree over 2^64 keys is
// at most 128 levels deep.
const maxTreeDepth = 128

const (
	tagEmpty byte = 0
	tagRed   byte = 1 + byte(Red)
	tagBlack byte = 1 + byte(Black)
)

// Manifest describes an encoded snapshot. Checksums are xxhash64 of the
// uncompressed blobs.
type Manifest struct {
	Version     int         `msgpack:"v"`
	Count       uint64      `msgpack:"n"`
	Cursor      uint64      `msgpack:"c"`
	DataPages   int         `msgpack:"dp"`
	DirPages    int         `msgpack:"ip"`
	Compression Compression `msgpack:"z"`
	TreeSum     uint64      `msgpack:"ts"`
	DirSum      uint64      `msgpack:"is"`
	DataSum     uint64      `msgpack:"ds"`
	Created     time.Time   `msgpack:"tm"`
}

// EncodedSnapshot is a Snapshot flattened into byte blobs.
//
// Dir and Data are verbatim copies of the used part of the directory and data
// segments. Tree is the preorder node stream: a tag byte per position (empty,
// red, black) followed, for nodes, by the uvarint index.
type EncodedSnapshot struct {
	Manifest Manifest
	Tree     []byte
	Dir      []byte
	Data     []byte
}

type EncodeOptions struct {
	Compression Compression
	Now         func() time.Time
}

// EncodeSnapshot copies s into an EncodedSnapshot. s must not be modified
// concurrently.
func EncodeSnapshot(s Snapshot, opt EncodeOptions) *EncodedSnapshot {
	if opt.Now == nil {
		opt.Now = time.Now
	}
	ks := s.Store
	tree := appendTree(nil, s.Tree)
	dir := ks.dir.LoadBytes(0, ks.count*recordSize)
	data := ks.data.LoadBytes(0, ks.cursor)

	c := opt.Compression
	return &EncodedSnapshot{
		Manifest: Manifest{
			Version:     snapshotVersion,
			Count:       ks.count,
			Cursor:      ks.cursor,
			DataPages:   ks.data.Pages(),
			DirPages:    ks.dir.Pages(),
			Compression: c,
			TreeSum:     xxhash.Sum64(tree),
			DirSum:      xxhash.Sum64(dir),
			DataSum:     xxhash.Sum64(data),
			Created:     opt.Now().UTC(),
		},
		Tree: c.compress(tree),
		Dir:  c.compress(dir),
		Data: c.compress(data),
	}
}

// DecodeSnapshot rebuilds a Snapshot into the given empty segments, growing
// them to the recorded page counts and copying the blobs in verbatim. Only
// checksums and sizes are verified; use CheckSnapshot or Enumeration.Unshare
// to validate the structure.
func DecodeSnapshot(es *EncodedSnapshot, data, dir segment.Segment) (Snapshot, error) {
	m := &es.Manifest
	if m.Version != snapshotVersion {
		return Snapshot{}, fmt.Errorf("unsupported snapshot version %d", m.Version)
	}
	if data.Pages() != 0 || dir.Pages() != 0 {
		panic("DecodeSnapshot: segments must be empty")
	}
	if m.DataPages < 0 || m.DirPages < 0 {
		return Snapshot{}, corruptf(0, nil, "negative page count in manifest")
	}
	if m.Count > math.MaxInt64/recordSize || m.Cursor > math.MaxInt64 {
		return Snapshot{}, corruptf(0, nil, "manifest sizes out of range: %d keys, %d data bytes", m.Count, m.Cursor)
	}

	treeBytes, err := unpackBlob("tree", m.Compression, es.Tree, m.TreeSum, -1)
	if err != nil {
		return Snapshot{}, err
	}
	dirBytes, err := unpackBlob("dir", m.Compression, es.Dir, m.DirSum, int64(m.Count*recordSize))
	if err != nil {
		return Snapshot{}, err
	}
	dataBytes, err := unpackBlob("data", m.Compression, es.Data, m.DataSum, int64(m.Cursor))
	if err != nil {
		return Snapshot{}, err
	}

	if _, err := dir.Grow(m.DirPages); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: grow directory segment: %w", err)
	}
	if _, err := data.Grow(m.DataPages); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: grow data segment: %w", err)
	}
	ks, err := RestoreKeyStore(data, dir, m.Count, m.Cursor)
	if err != nil {
		return Snapshot{}, corruptf(0, err, "manifest does not fit its segments")
	}
	dir.StoreBytes(0, dirBytes)
	data.StoreBytes(0, dataBytes)

	d := makeByteDecoder(treeBytes)
	tree, err := decodeTree(&d, 0)
	if err != nil {
		return Snapshot{}, err
	}
	if !d.Empty() {
		return Snapshot{}, dataErrf(d.Orig, d.Off(), nil, "trailing bytes after tree")
	}
	return Snapshot{Tree: tree, Store: ks}, nil
}

func unpackBlob(name string, c Compression, b []byte, sum uint64, size int64) ([]byte, error) {
	raw, err := c.decompress(b)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s blob: %w", name, err)
	}
	if size >= 0 && int64(len(raw)) != size {
		return nil, fmt.Errorf("snapshot %s blob: %d bytes, manifest wants %d", name, len(raw), size)
	}
	if actual := xxhash.Sum64(raw); actual != sum {
		return nil, fmt.Errorf("snapshot %s blob: checksum %016x, manifest wants %016x", name, actual, sum)
	}
	return raw, nil
}

func appendTree(buf []byte, t *Node) []byte {
	if t == nil {
		return append(buf, tagEmpty)
	}
	buf = append(buf, 1+byte(t.Color))
	buf = appendUvarint(buf, t.Index)
	buf = appendTree(buf, t.Left)
	return appendTree(buf, t.Right)
}

func decodeTree(d *byteDecoder, depth int) (*Node, error) {
	if depth > maxTreeDepth {
		return nil, dataErrf(d.Orig, d.Off(), nil, "tree deeper than %d levels", maxTreeDepth)
	}
	tag, err := d.Byte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagEmpty:
		return nil, nil
	case tagRed, tagBlack:
		index, err := d.Uvarint()
		if err != nil {
			return nil, err
		}
		l, err := decodeTree(d, depth+1)
		if err != nil {
			return nil, err
		}
		r, err := decodeTree(d, depth+1)
		if err != nil {
			return nil, err
		}
		return &Node{Color(tag - 1), l, index, r}, nil
	default:
		return nil, dataErrf(d.Orig, d.Off()-1, nil, "invalid node tag %d", tag)
	}
}
