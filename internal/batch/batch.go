// Package batch implements the atomic write-batch wire format used both
// as the in-memory representation of a multi-key write and as the
// payload of a single WAL record (spec §4.F): an 8-byte starting
// sequence, a 4-byte entry count, then (type, user-key, value?) triples.
package batch

import (
	"encoding/binary"

	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/status"
)

type Entry struct {
	Type  ikey.ValueType
	Key   []byte
	Value []byte // nil for deletions
}

// Batch accumulates Put/Delete operations applied atomically: either
// every entry becomes visible at once or none do (spec §4.F: "a single
// record = at most one atomic group").
type Batch struct {
	entries []Entry
}

func New() *Batch { return &Batch{} }

func (b *Batch) Put(key, value []byte) {
	b.entries = append(b.entries, Entry{Type: ikey.TypeValue, Key: key, Value: value})
}

func (b *Batch) Delete(key []byte) {
	b.entries = append(b.entries, Entry{Type: ikey.TypeDeletion, Key: key})
}

func (b *Batch) Count() int { return len(b.entries) }

func (b *Batch) Entries() []Entry { return b.entries }

func (b *Batch) Reset() { b.entries = b.entries[:0] }

// Append merges other's entries onto b, used by the write-path leader to
// coalesce queued followers' batches into one WAL record (spec §4.I).
func (b *Batch) Append(other *Batch) {
	b.entries = append(b.entries, other.entries...)
}

// ByteSize estimates the encoded batch size for the writer-coalescing
// size bound in spec §4.I.
func (b *Batch) ByteSize() int {
	n := 12
	for _, e := range b.entries {
		n += 1 + binary.MaxVarintLen64 + len(e.Key)
		if e.Type == ikey.TypeValue {
			n += binary.MaxVarintLen64 + len(e.Value)
		}
	}
	return n
}

// Encode serializes the batch as a WAL record payload: startSeq (8B LE)
// | count (4B LE) | per-entry (type(1B), keyLen(varint), key, [valueLen
// (varint), value]).
func Encode(startSeq uint64, b *Batch) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint64(buf[0:8], startSeq)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(b.entries)))
	for _, e := range b.entries {
		buf = append(buf, byte(e.Type))
		buf = appendUvarint(buf, uint64(len(e.Key)))
		buf = append(buf, e.Key...)
		if e.Type == ikey.TypeValue {
			buf = appendUvarint(buf, uint64(len(e.Value)))
			buf = append(buf, e.Value...)
		}
	}
	return buf
}

func appendUvarint(dst []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(dst, tmp[:n]...)
}

// Decode parses a WAL record payload back into a starting sequence and
// entries.
func Decode(payload []byte) (startSeq uint64, entries []Entry, err error) {
	if len(payload) < 12 {
		return 0, nil, status.Corruptionf("batch: payload too small")
	}
	startSeq = binary.LittleEndian.Uint64(payload[0:8])
	count := binary.LittleEndian.Uint32(payload[8:12])
	p := payload[12:]
	entries = make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(p) < 1 {
			return 0, nil, status.Corruptionf("batch: truncated entry %d", i)
		}
		t := ikey.ValueType(p[0])
		p = p[1:]
		klen, n := binary.Uvarint(p)
		if n <= 0 || uint64(len(p)-n) < klen {
			return 0, nil, status.Corruptionf("batch: bad key length at entry %d", i)
		}
		p = p[n:]
		key := p[:klen]
		p = p[klen:]
		var value []byte
		if t == ikey.TypeValue {
			vlen, n := binary.Uvarint(p)
			if n <= 0 || uint64(len(p)-n) < vlen {
				return 0, nil, status.Corruptionf("batch: bad value length at entry %d", i)
			}
			p = p[n:]
			value = p[:vlen]
			p = p[vlen:]
		}
		entries = append(entries, Entry{Type: t, Key: key, Value: value})
	}
	return startSeq, entries, nil
}
