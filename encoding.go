package enumdb

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

func encodeMsgpack(buf []byte, v any) []byte {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", v, err))
	}
	return bb.Buf
}

func decodeMsgpack(buf []byte, v any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", v)
	}
	return nil
}

// Compression selects how snapshot blobs are stored.
type Compression uint8

const (
	NoCompression Compression = iota
	Zstd
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
)

func initZstd() {
	zstdEnc = must(zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)))
	zstdDec = must(zstd.NewReader(nil))
}

func (c Compression) compress(b []byte) []byte {
	switch c {
	case NoCompression:
		return b
	case Zstd:
		zstdOnce.Do(initZstd)
		return zstdEnc.EncodeAll(b, nil)
	default:
		panic(fmt.Sprintf("unsupported compression %v", c))
	}
}

func (c Compression) decompress(b []byte) ([]byte, error) {
	switch c {
	case NoCompression:
		return b, nil
	case Zstd:
		zstdOnce.Do(initZstd)
		out, err := zstdDec.DecodeAll(b, nil)
		if err != nil {
			return nil, dataErrf(b, 0, err, "zstd")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression %v", c)
	}
}
