// Package sstable implements the on-disk sorted file format: data
// blocks with prefix-compressed, restart-pointed key encoding, an
// optional filter block, a meta-index block, an index block, and a
// fixed 48-byte footer (spec §4.C, §6).
//
// Grounded on the teacher's flat length-prefixed WriteSSTable
// (sstable.go) for the overall "build then seal" shape, generalized to
// LevelDB's actual block layout — the teacher's version never restarted
// or compressed — and on plsm's block package (block/block.go,
// block/builder.go) for the builder/offset-table idiom, adapted from
// plsm's fixed 2-byte length fields (no prefix compression, no restart
// points) to the spec-mandated shared/unshared varint encoding.
package sstable

import (
	"encoding/binary"

	"github.com/lsmkv/lsmkv/internal/status"
)

// DefaultRestartInterval is the number of entries between restart
// points inside a data block (spec §4.C).
const DefaultRestartInterval = 16

// BlockBuilder accumulates entries for a single block in non-decreasing
// key order, prefix-compressing against the previous key and emitting a
// restart point every restartInterval entries.
type BlockBuilder struct {
	restartInterval int
	buf             []byte
	restarts        []uint32
	counter         int
	lastKey         []byte
	finished        bool
}

func NewBlockBuilder(restartInterval int) *BlockBuilder {
	if restartInterval <= 0 {
		restartInterval = DefaultRestartInterval
	}
	return &BlockBuilder{
		restartInterval: restartInterval,
		restarts:        []uint32{0},
	}
}

func (b *BlockBuilder) Reset() {
	b.buf = b.buf[:0]
	b.restarts = append(b.restarts[:0], 0)
	b.counter = 0
	b.lastKey = b.lastKey[:0]
	b.finished = false
}

func (b *BlockBuilder) Empty() bool { return len(b.buf) == 0 }

// CurrentSizeEstimate is used by the table builder to decide when to
// cut a new data block.
func (b *BlockBuilder) CurrentSizeEstimate() int {
	return len(b.buf) + len(b.restarts)*4 + 4
}

// Add appends a key/value pair. key must be >= the last key added since
// Reset (internal-key order); the caller (table builder) enforces this.
func (b *BlockBuilder) Add(key, value []byte) {
	shared := 0
	if b.counter < b.restartInterval {
		n := len(b.lastKey)
		if len(key) < n {
			n = len(key)
		}
		for shared < n && b.lastKey[shared] == key[shared] {
			shared++
		}
	} else {
		b.restarts = append(b.restarts, uint32(len(b.buf)))
		b.counter = 0
	}
	unshared := len(key) - shared

	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varintBuf[:], uint64(shared))
	b.buf = append(b.buf, varintBuf[:n]...)
	n = binary.PutUvarint(varintBuf[:], uint64(unshared))
	b.buf = append(b.buf, varintBuf[:n]...)
	n = binary.PutUvarint(varintBuf[:], uint64(len(value)))
	b.buf = append(b.buf, varintBuf[:n]...)

	b.buf = append(b.buf, key[shared:]...)
	b.buf = append(b.buf, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
}

// Finish serializes the block: data, then the restart-point array, then
// the restart count.
func (b *BlockBuilder) Finish() []byte {
	for _, r := range b.restarts {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], r)
		b.buf = append(b.buf, buf[:]...)
	}
	var cnt [4]byte
	binary.LittleEndian.PutUint32(cnt[:], uint32(len(b.restarts)))
	b.buf = append(b.buf, cnt[:]...)
	b.finished = true
	return b.buf
}

// Block is a parsed, immutable data (or index) block ready for seeking.
type Block struct {
	data     []byte
	restarts []uint32
}

func ParseBlock(data []byte) (*Block, error) {
	if len(data) < 4 {
		return nil, status.Corruptionf("sstable: block too small (%d bytes)", len(data))
	}
	numRestarts := binary.LittleEndian.Uint32(data[len(data)-4:])
	restartsStart := len(data) - 4 - int(numRestarts)*4
	if restartsStart < 0 {
		return nil, status.Corruptionf("sstable: block restart count %d corrupt", numRestarts)
	}
	restarts := make([]uint32, numRestarts)
	for i := range restarts {
		off := restartsStart + i*4
		restarts[i] = binary.LittleEndian.Uint32(data[off : off+4])
	}
	return &Block{data: data[:restartsStart], restarts: restarts}, nil
}

// BlockIterator walks a parsed Block, tracking the current key/value by
// decoding forward from the nearest restart point.
type BlockIterator struct {
	block        *Block
	offset       int // byte offset of current entry's start, or len(data) if invalid
	nextOffset   int // byte offset just past current entry
	restartIndex int
	key          []byte
	value        []byte
	valid        bool
	err          error
}

func (b *Block) NewIterator() *BlockIterator {
	return &BlockIterator{block: b, offset: len(b.data), nextOffset: len(b.data)}
}

func (it *BlockIterator) Valid() bool { return it.valid }
func (it *BlockIterator) Key() []byte { return it.key }
func (it *BlockIterator) Value() []byte { return it.value }
func (it *BlockIterator) Error() error { return it.err }

func decodeEntry(data []byte, offset int) (shared, unshared, valueLen, headerEnd int, err error) {
	if offset >= len(data) {
		return 0, 0, 0, 0, status.Corruptionf("sstable: entry offset out of range")
	}
	p := offset
	s, n := binary.Uvarint(data[p:])
	if n <= 0 {
		return 0, 0, 0, 0, status.Corruptionf("sstable: bad shared-length varint")
	}
	p += n
	u, n := binary.Uvarint(data[p:])
	if n <= 0 {
		return 0, 0, 0, 0, status.Corruptionf("sstable: bad unshared-length varint")
	}
	p += n
	vl, n := binary.Uvarint(data[p:])
	if n <= 0 {
		return 0, 0, 0, 0, status.Corruptionf("sstable: bad value-length varint")
	}
	p += n
	return int(s), int(u), int(vl), p, nil
}

// parseAt decodes the entry at byteOffset given the key held by the
// previous entry (for prefix expansion), returning the new key/value and
// the offset just past this entry.
func (it *BlockIterator) parseAt(byteOffset int, prevKey []byte) bool {
	data := it.block.data
	shared, unshared, valueLen, headerEnd, err := decodeEntry(data, byteOffset)
	if err != nil {
		it.err = err
		it.valid = false
		return false
	}
	if shared > len(prevKey) || headerEnd+unshared+valueLen > len(data) {
		it.err = status.Corruptionf("sstable: entry bounds out of range")
		it.valid = false
		return false
	}
	key := make([]byte, shared+unshared)
	copy(key, prevKey[:shared])
	copy(key[shared:], data[headerEnd:headerEnd+unshared])
	it.key = key
	it.value = data[headerEnd+unshared : headerEnd+unshared+valueLen]
	it.offset = byteOffset
	it.nextOffset = headerEnd + unshared + valueLen
	it.valid = true
	return true
}

func (it *BlockIterator) restartOffset(index int) int {
	return int(it.block.restarts[index])
}

func (it *BlockIterator) SeekToFirst() bool {
	if len(it.block.restarts) == 0 {
		it.valid = false
		return false
	}
	return it.parseAtRestart(0)
}

// SeekToLast positions at the final entry by decoding the last restart
// point's run to the end of the block.
func (it *BlockIterator) SeekToLast() bool {
	n := len(it.block.restarts)
	if n == 0 {
		it.valid = false
		return false
	}
	if !it.parseAtRestart(n - 1) {
		return false
	}
	for it.nextOffset < len(it.block.data) {
		if !it.Next() {
			break
		}
	}
	return it.valid
}

// Seek positions the iterator at the first entry whose key >= target,
// using binary search over restart points followed by a linear scan.
func (it *BlockIterator) Seek(cmp func(a, b []byte) int, target []byte) bool {
	if len(it.block.restarts) == 0 {
		it.valid = false
		return false
	}
	lo, hi := 0, len(it.block.restarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if !it.parseAtRestart(mid) {
			return false
		}
		if cmp(it.key, target) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if !it.parseAtRestart(lo) {
		return false
	}
	for {
		if cmp(it.key, target) >= 0 {
			return true
		}
		if !it.Next() {
			return false
		}
	}
}

// parseAtRestart decodes just the entry at restart point index (shared
// is always 0 there).
func (it *BlockIterator) parseAtRestart(index int) bool {
	it.restartIndex = index
	return it.parseAt(it.restartOffset(index), nil)
}

func (it *BlockIterator) Next() bool {
	if !it.valid {
		return false
	}
	if it.nextOffset >= len(it.block.data) {
		it.valid = false
		return false
	}
	prevKey := it.key
	if it.restartIndex+1 < len(it.block.restarts) && it.nextOffset >= it.restartOffset(it.restartIndex+1) {
		it.restartIndex++
	}
	return it.parseAt(it.nextOffset, prevKey)
}

// Prev repositions to the entry immediately before the current one by
// finding the restart point at or before the current offset and
// scanning forward, re-seeking when direction reverses (spec §4.E).
func (it *BlockIterator) Prev() bool {
	if !it.valid {
		return false
	}
	original := it.offset
	idx := it.restartIndex
	for idx > 0 && it.restartOffset(idx) >= original {
		idx--
	}
	if !it.parseAtRestart(idx) {
		return false
	}
	var lastGood *blockPos
	for it.offset < original {
		p := it.savePos()
		lastGood = &p
		if !it.Next() || it.offset >= original {
			break
		}
	}
	if lastGood == nil {
		it.valid = false
		return false
	}
	it.restorePos(*lastGood)
	return true
}

type blockPos struct {
	offset, nextOffset, restartIndex int
	key, value                       []byte
}

func (it *BlockIterator) savePos() blockPos {
	return blockPos{it.offset, it.nextOffset, it.restartIndex, it.key, it.value}
}

func (it *BlockIterator) restorePos(p blockPos) {
	it.offset, it.nextOffset, it.restartIndex, it.key, it.value = p.offset, p.nextOffset, p.restartIndex, p.key, p.value
	it.valid = true
}
