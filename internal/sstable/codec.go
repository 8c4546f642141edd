// Block compression is an external collaborator per spec §1 ("compression
// codecs... treated as an external collaborator with a named interface").
// Codec is that named interface; snappyCodec wires github.com/golang/snappy,
// the codec badger and pebble both reach for, in place of the teacher
// (which never compressed blocks at all).
package sstable

import (
	"github.com/golang/snappy"

	"github.com/lsmkv/lsmkv/internal/status"
)

// CompressionType tags a block trailer's 1-byte type field (spec §6).
type CompressionType byte

const (
	NoCompression     CompressionType = 0
	SnappyCompression CompressionType = 1
)

// Codec compresses/decompresses a single block's payload.
type Codec interface {
	Type() CompressionType
	Encode(dst, src []byte) []byte
	Decode(dst, src []byte) ([]byte, error)
}

type noopCodec struct{}

func (noopCodec) Type() CompressionType             { return NoCompression }
func (noopCodec) Encode(dst, src []byte) []byte      { return append(dst, src...) }
func (noopCodec) Decode(dst, src []byte) ([]byte, error) { return append(dst, src...), nil }

type snappyCodec struct{}

func (snappyCodec) Type() CompressionType { return SnappyCompression }

func (snappyCodec) Encode(dst, src []byte) []byte {
	return snappy.Encode(nil, src)
}

func (snappyCodec) Decode(dst, src []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, status.Corruptionf("sstable: snappy decode failed: %v", err)
	}
	return out, nil
}

func CodecFor(t CompressionType) (Codec, error) {
	switch t {
	case NoCompression:
		return noopCodec{}, nil
	case SnappyCompression:
		return snappyCodec{}, nil
	default:
		return nil, status.Corruptionf("sstable: unknown block compression type %d", t)
	}
}
