// Package ikey implements the internal-key encoding and ordering that
// underlies every sorted structure in the store: memtable, sstable
// blocks, and the merging iterator all compare by InternalKey, never by
// the raw user key alone.
//
// Layout: user-key bytes followed by an 8-byte little-endian trailer
// packing (sequence<<8 | valueType). Internal keys order by user key
// ascending, then by trailer descending, so that for equal user keys the
// newest write (highest sequence) sorts first.
package ikey

import (
	"encoding/binary"

	"github.com/lsmkv/lsmkv/internal/status"
)

// ValueType distinguishes a live value from a tombstone.
type ValueType uint8

const (
	// TypeDeletion marks a tombstone.
	TypeDeletion ValueType = 0
	// TypeValue marks a live Put.
	TypeValue ValueType = 1

	// seekValueType is used only when constructing a lookup key. It equals
	// TypeValue, the largest type a real entry encodes, so a lookup key at
	// sequence s compares equal to a Put at s and sorts before a Deletion
	// at s and before every entry with a smaller sequence: a seek at
	// sequence s lands on the newest real entry with sequence <= s.
	seekValueType ValueType = 1
)

const trailerLen = 8

// MaxSequence is the largest representable 56-bit sequence number.
const MaxSequence uint64 = (1 << 56) - 1

// Comparator orders raw byte-string user keys. Stores typically use
// bytes.Compare; callers may supply a different total order.
type Comparator interface {
	Compare(a, b []byte) int
	Name() string
}

// BytewiseComparator is the default user-key comparator: plain
// lexicographic byte comparison.
type BytewiseComparator struct{}

func (BytewiseComparator) Name() string { return "lsmkv.BytewiseComparator" }

func (BytewiseComparator) Compare(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func packTrailer(seq uint64, t ValueType) uint64 {
	return (seq << 8) | uint64(t)
}

func UnpackTrailer(trailer uint64) (seq uint64, t ValueType) {
	return trailer >> 8, ValueType(trailer & 0xff)
}

// Append encodes a new internal key into dst (user key + trailer) and
// returns the extended slice.
func Append(dst []byte, userKey []byte, seq uint64, t ValueType) []byte {
	dst = append(dst, userKey...)
	var buf [trailerLen]byte
	binary.LittleEndian.PutUint64(buf[:], packTrailer(seq, t))
	return append(dst, buf[:]...)
}

// Make builds a standalone internal key.
func Make(userKey []byte, seq uint64, t ValueType) []byte {
	buf := make([]byte, 0, len(userKey)+trailerLen)
	return Append(buf, userKey, seq, t)
}

// LookupKey builds the internal key used to seek for the newest version
// of userKey visible at sequence seq: it compares equal to a Put at seq
// and sorts ahead of a Deletion at seq and of every older entry.
func LookupKey(userKey []byte, seq uint64) []byte {
	return Make(userKey, seq, seekValueType)
}

// UserKey strips the trailer, returning the user-key portion of an
// internal key. Panics if ik is shorter than the trailer — callers must
// validate length first via Valid.
func UserKey(ik []byte) []byte {
	return ik[:len(ik)-trailerLen]
}

// Trailer returns the packed (sequence, type) trailer of ik.
func Trailer(ik []byte) uint64 {
	return binary.LittleEndian.Uint64(ik[len(ik)-trailerLen:])
}

func Sequence(ik []byte) uint64 {
	seq, _ := UnpackTrailer(Trailer(ik))
	return seq
}

func Type(ik []byte) ValueType {
	_, t := UnpackTrailer(Trailer(ik))
	return t
}

func Valid(ik []byte) bool { return len(ik) >= trailerLen }

// InternalComparator orders internal keys: user-key ascending, then trailer
// descending (larger trailer, i.e. newer sequence, sorts first).
type InternalComparator struct {
	User Comparator
}

func NewInternalComparator(user Comparator) *InternalComparator {
	return &InternalComparator{User: user}
}

func (c *InternalComparator) Name() string { return "lsmkv.InternalKeyComparator" }

func (c *InternalComparator) Compare(a, b []byte) int {
	if !Valid(a) || !Valid(b) {
		// Defensive: corrupt keys sort by raw bytes so iteration still
		// terminates instead of panicking mid-merge.
		return bytesCompare(a, b)
	}
	if r := c.User.Compare(UserKey(a), UserKey(b)); r != 0 {
		return r
	}
	ta, tb := Trailer(a), Trailer(b)
	switch {
	case ta > tb:
		return -1
	case ta < tb:
		return 1
	default:
		return 0
	}
}

func bytesCompare(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

// ShortSeparator returns a short key in [start, limit) (by user-key
// order) suitable for an index-block separator, preserving start's
// trailer. If no shortening is possible, start is returned unchanged.
func (c *InternalComparator) ShortSeparator(start, limit []byte) []byte {
	if !Valid(start) || !Valid(limit) {
		return start
	}
	su, lu := UserKey(start), UserKey(limit)
	minLen := len(su)
	if len(lu) < minLen {
		minLen = len(lu)
	}
	diff := 0
	for diff < minLen && su[diff] == lu[diff] {
		diff++
	}
	if diff >= minLen {
		return start // one is a prefix of the other; no shortening
	}
	if su[diff] >= 0xff || su[diff]+1 >= lu[diff] {
		return start
	}
	shortUser := append([]byte{}, su[:diff+1]...)
	shortUser[diff]++
	if c.User.Compare(shortUser, lu) >= 0 {
		return start
	}
	return Append(shortUser, nil, Sequence(start), Type(start))
}

// ShortSuccessor returns a short key >= key (by user-key order),
// preserving key's trailer, for use as the separator after the last
// block in a file.
func (c *InternalComparator) ShortSuccessor(key []byte) []byte {
	if !Valid(key) {
		return key
	}
	u := UserKey(key)
	for i, b := range u {
		if b != 0xff {
			shortUser := append([]byte{}, u[:i+1]...)
			shortUser[i]++
			return Append(shortUser, nil, Sequence(key), Type(key))
		}
	}
	return key
}

// ErrCorruptInternalKey is a ready-made Corruption error about a
// malformed internal key.
var ErrCorruptInternalKey = status.Corruptionf("corrupted internal key")
