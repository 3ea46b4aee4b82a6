package enumdb

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is matched by errors returned for an index >= Size().
var ErrOutOfRange = errors.New("index out of range")

// ErrClosed is returned by DB methods after Close.
var ErrClosed = errors.New("database closed")

type RangeError struct {
	Index uint64
	Size  uint64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("index %d out of range [0, %d)", e.Index, e.Size)
}

func (e *RangeError) Is(target error) bool {
	return target == ErrOutOfRange
}

// DataError describes undecodable persisted bytes.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}

// CorruptSnapshotError is returned by the checked restore and by snapshot
// decoding when a snapshot does not describe a valid enumeration.
type CorruptSnapshotError struct {
	Index uint64 // offending node index, if any
	Msg   string
	Err   error
}

func corruptf(index uint64, err error, format string, args ...any) error {
	return &CorruptSnapshotError{index, fmt.Sprintf(format, args...), err}
}

func (e *CorruptSnapshotError) Unwrap() error {
	return e.Err
}

func (e *CorruptSnapshotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt snapshot: node %d: %s: %v", e.Index, e.Msg, e.Err)
	}
	return fmt.Sprintf("corrupt snapshot: node %d: %s", e.Index, e.Msg)
}
