package sstable

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/lsmkv/lsmkv/internal/status"
)

// TableMagic is the fixed trailer magic identifying a valid sorted file
// (spec §6).
const TableMagic uint64 = 0xdb4775248b80fb57

// FooterSize is fixed: two varint64 block handles written back to back
// and zero-padded together to 2*maxHandleEncodedLength (40) bytes, plus
// the 8-byte magic (spec §4.C, §9).
const (
	maxHandleEncodedLength = 20
	FooterSize             = 2*maxHandleEncodedLength + 8
)

// BlockTrailerSize is the 1-byte compression type + 4-byte masked CRC
// appended after every on-disk block (spec §4.C, §6).
const BlockTrailerSize = 5

// BlockHandle locates a block within the file.
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

func (h BlockHandle) EncodeTo(dst []byte) []byte {
	dst = appendUvarint(dst, h.Offset)
	dst = appendUvarint(dst, h.Size)
	return dst
}

func DecodeBlockHandle(src []byte) (BlockHandle, []byte, error) {
	off, n := binary.Uvarint(src)
	if n <= 0 {
		return BlockHandle{}, nil, status.Corruptionf("sstable: bad block handle offset")
	}
	src = src[n:]
	size, n := binary.Uvarint(src)
	if n <= 0 {
		return BlockHandle{}, nil, status.Corruptionf("sstable: bad block handle size")
	}
	return BlockHandle{Offset: off, Size: size}, src[n:], nil
}

func appendUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// Footer is the fixed-size trailer at the end of every sorted file.
type Footer struct {
	MetaIndexHandle BlockHandle
	IndexHandle     BlockHandle
}

func (f Footer) EncodeTo() []byte {
	buf := make([]byte, 0, FooterSize)
	buf = f.MetaIndexHandle.EncodeTo(buf)
	buf = f.IndexHandle.EncodeTo(buf)
	padded := make([]byte, FooterSize)
	copy(padded, buf)
	binary.LittleEndian.PutUint64(padded[FooterSize-8:], TableMagic)
	return padded
}

func DecodeFooter(data []byte) (Footer, error) {
	if len(data) != FooterSize {
		return Footer{}, status.Corruptionf("sstable: footer has wrong size %d", len(data))
	}
	magic := binary.LittleEndian.Uint64(data[FooterSize-8:])
	if magic != TableMagic {
		return Footer{}, status.Corruptionf("sstable: bad magic number")
	}
	rest := data[:FooterSize-8]
	mi, rest, err := DecodeBlockHandle(rest)
	if err != nil {
		return Footer{}, err
	}
	idx, _, err := DecodeBlockHandle(rest)
	if err != nil {
		return Footer{}, err
	}
	return Footer{MetaIndexHandle: mi, IndexHandle: idx}, nil
}

// crc32c is the Castagnoli table LevelDB's checksums use throughout.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

const crcMaskDelta = 0xa282ead8

// maskCRC applies LevelDB's rotate-right-15-then-add mask so that CRCs
// of CRCs (e.g. a block containing another checksum) don't collide.
func maskCRC(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + crcMaskDelta
}

func unmaskCRC(masked uint32) uint32 {
	rot := masked - crcMaskDelta
	return (rot >> 17) | (rot << 15)
}

// appendBlockTrailer appends payload to dst, computes the masked CRC32C over payload++typeByte
// and appends [typeByte][maskedCRC] (little-endian), per spec §6.
func appendBlockTrailer(dst []byte, payload []byte, ctype CompressionType) []byte {
	dst = append(dst, payload...)
	dst = append(dst, byte(ctype))
	crc := crc32.Update(0, crc32cTable, payload)
	crc = crc32.Update(crc, crc32cTable, []byte{byte(ctype)})
	masked := maskCRC(crc)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], masked)
	return append(dst, buf[:]...)
}

// verifyAndSplitBlockTrailer checks the trailer CRC over a raw
// [payload][type][crc] slice and returns the compression type and the
// payload.
func verifyAndSplitBlockTrailer(raw []byte) (CompressionType, []byte, error) {
	if len(raw) < BlockTrailerSize {
		return 0, nil, status.Corruptionf("sstable: block too small for trailer")
	}
	payload := raw[:len(raw)-BlockTrailerSize]
	ctype := CompressionType(raw[len(raw)-BlockTrailerSize])
	storedMasked := binary.LittleEndian.Uint32(raw[len(raw)-4:])
	crc := crc32.Update(0, crc32cTable, payload)
	crc = crc32.Update(crc, crc32cTable, []byte{byte(ctype)})
	if maskCRC(crc) != storedMasked {
		return 0, nil, status.Corruptionf("sstable: block checksum mismatch")
	}
	return ctype, payload, nil
}
