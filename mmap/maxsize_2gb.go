//go:build 386 || arm || ppc

package mmap

// MaxSize is the largest mapping Mmap accepts: the positive int32 range.
const MaxSize = 1<<31 - 1
