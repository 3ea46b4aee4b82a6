/*
Package enumdb implements a persistent bijective enumeration: a mapping from
arbitrary byte strings (keys) to dense integers (indices) assigned in
insertion order, with lookups in both directions.

We implement:

1. KeyStore, an append-only store of keys over two page-granular segments.

2. An order index, a persistent red-black tree that holds only indices and
compares keys by reading them back from the KeyStore.

3. Enumeration, which combines the two and can hand out and adopt its whole
state as a Snapshot.

4. DB, a durable and concurrency-safe Enumeration backed by checkpoints in a
Bolt file plus a journal of keys added since the last checkpoint.

# Technical Details

**Segments.**
A segment is a growable byte array allocated in 64 KiB pages, either on the Go
heap or in a memory-mapped file (see package segment). Growth is explicit; a
segment that cannot grow reports segment.ErrExhausted and nothing changes.

**Key store.**
The data segment holds key bytes back to back. The directory segment holds a
16-byte record per key: position (uint64) and length (uint64), little-endian.
The record of index i starts at i*16. Zero-length keys take a directory record
and no data bytes.

**Order index.**
Nodes are immutable. Insertion copies the nodes along the search path and
rebalances them the Okasaki way; untouched subtrees are shared, so every old
root remains a valid tree. A duplicate insert returns the original root.

**Checkpoints.**
Buckets:
1. meta: database UUID.
2. snapshots: 8-byte big-endian sequence number to msgpack manifest.
3. blobs: sequence number plus a kind byte (tree, dir, data) to blob bytes.

The manifest records the counts, page sizes, compression and xxhash64 of each
uncompressed blob. The tree blob is a preorder stream, one tag byte per
position (0 empty, 1 red, 2 black), each node tag followed by the uvarint
index. The dir and data blobs are verbatim segment prefixes.

**Journal.**
Each new key is journaled as uvarint(index) followed by the key bytes and
committed immediately. On open, records with indices below the checkpoint size
are checked and skipped; the rest are applied in order. A checkpoint rotates
the journal and deletes the segments it covers.
*/
package enumdb
