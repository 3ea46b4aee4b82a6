//go:build mips64 || mips64le

package mmap

// MaxSize is the largest mapping Mmap accepts: 39 bits of address space.
const MaxSize = 1 << 39
