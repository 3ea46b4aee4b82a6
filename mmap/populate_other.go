//go:build !linux

package mmap

const mapPopulate = 0
