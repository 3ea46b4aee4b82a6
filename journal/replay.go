package journal

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Record is a committed journal record.
type Record struct {
	Segment   uint32
	Timestamp uint32
	Data      []byte
}

// Replay calls fn for every committed record, oldest first. Records written
// after the last valid commit marker of a segment (an interrupted write) are
// skipped with a warning. Replay must not run concurrently with writes.
//
// Record.Data is only valid during the call to fn.
func (j *Journal) Replay(fn func(rec Record) error) error {
	names, err := j.segmentNames()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, name := range names {
		if err := j.context.Err(); err != nil {
			return err
		}
		seq, _, _, err := parseSegmentName(j.trimName(name))
		if err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(j.dir, name))
		if err != nil {
			return err
		}
		if err := j.replaySegment(name, seq, data, fn); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) replaySegment(name string, seq uint32, data []byte, fn func(rec Record) error) error {
	var h segmentHeader
	err := j.decodeHeader(data, &h, seq)
	if err == errCorruptedFile {
		j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: skipping segment with corrupted header", slog.String("jrnl", j.debugName), slog.String("file", name), slog.Int("size", len(data)))
		return nil
	} else if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	var hash xxhash.Digest
	hash.Reset()
	hash.Write(data[:segmentHeaderSize])

	var pending []Record
	ts := h.Timestamp
	off := segmentHeaderSize
	committed := off
	for off < len(data) {
		if data[off]&recordFlagCommit != 0 {
			if len(data)-off < 8 {
				break
			}
			var expected [8]byte
			binary.LittleEndian.PutUint64(expected[:], hash.Sum64())
			expected[0] |= recordFlagCommit
			if [8]byte(data[off:off+8]) != expected {
				break
			}
			hash.Write(data[off : off+8])
			off += 8
			committed = off

			for _, rec := range pending {
				if err := fn(rec); err != nil {
					return err
				}
			}
			pending = pending[:0]
			continue
		}

		start := off
		sizeAndFlags, n := binary.Uvarint(data[off:])
		if n <= 0 {
			break
		}
		off += n
		tsDelta, n := binary.Uvarint(data[off:])
		if n <= 0 || tsDelta > 0xFFFF_FFFF {
			break
		}
		off += n
		size := sizeAndFlags >> recordFlagShift
		if size > uint64(len(data)-off) {
			break
		}
		end := off + int(size)
		hash.Write(data[start:end])

		ts += uint32(tsDelta)
		pending = append(pending, Record{Segment: seq, Timestamp: ts, Data: data[off:end]})
		off = end
	}

	if committed < len(data) {
		j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: ignoring uncommitted tail", slog.String("jrnl", j.debugName), slog.String("file", name), slog.Int("committed", committed), slog.Int("size", len(data)))
	}
	return nil
}
