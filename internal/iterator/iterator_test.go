package iterator

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// sliceIterator iterates a sorted, in-memory slice of keys; used as a
// child iterator in these tests in place of a real memtable/sstable
// iterator.
type sliceIterator struct {
	keys []string
	pos  int // -1 before the first entry, len(keys) past the last
}

func newSliceIterator(keys ...string) *sliceIterator {
	return &sliceIterator{keys: keys, pos: -1}
}

func (s *sliceIterator) Valid() bool   { return s.pos >= 0 && s.pos < len(s.keys) }
func (s *sliceIterator) Key() []byte   { return []byte(s.keys[s.pos]) }
func (s *sliceIterator) Value() []byte { return []byte(s.keys[s.pos]) }
func (s *sliceIterator) Error() error  { return nil }
func (s *sliceIterator) Close() error  { return nil }

func (s *sliceIterator) Next() bool {
	if s.pos < len(s.keys) {
		s.pos++
	}
	return s.Valid()
}

func (s *sliceIterator) Prev() bool {
	if s.pos >= 0 {
		s.pos--
	}
	return s.Valid()
}

func (s *sliceIterator) SeekToFirst() bool {
	s.pos = 0
	return s.Valid()
}

func (s *sliceIterator) SeekToLast() bool {
	s.pos = len(s.keys) - 1
	return s.Valid()
}

func (s *sliceIterator) Seek(target []byte) bool {
	for s.pos = 0; s.pos < len(s.keys); s.pos++ {
		if bytes.Compare([]byte(s.keys[s.pos]), target) >= 0 {
			break
		}
	}
	return s.Valid()
}

func cmp(a, b []byte) int { return bytes.Compare(a, b) }

func collectForward(t *testing.T, m *Merging) []string {
	var got []string
	for valid := m.SeekToFirst(); valid; valid = m.Next() {
		got = append(got, string(m.Key()))
	}
	require.NoError(t, m.Error())
	return got
}

func TestMergingSeekToFirstInterleaves(t *testing.T) {
	m := NewMerging(cmp, []Iterator{
		newSliceIterator("b", "d", "f"),
		newSliceIterator("a", "c", "e"),
	})
	require.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, collectForward(t, m))
}

func TestMergingSeekToLastAndPrev(t *testing.T) {
	m := NewMerging(cmp, []Iterator{
		newSliceIterator("b", "d", "f"),
		newSliceIterator("a", "c", "e"),
	})
	var got []string
	for valid := m.SeekToLast(); valid; valid = m.Prev() {
		got = append(got, string(m.Key()))
	}
	require.Equal(t, []string{"f", "e", "d", "c", "b", "a"}, got)
}

func TestMergingSeek(t *testing.T) {
	m := NewMerging(cmp, []Iterator{
		newSliceIterator("a", "c", "e"),
		newSliceIterator("b", "d", "f"),
	})
	require.True(t, m.Seek([]byte("c")))
	require.Equal(t, "c", string(m.Key()))
	require.True(t, m.Next())
	require.Equal(t, "d", string(m.Key()))
}

func TestMergingDirectionReversalForwardThenBackward(t *testing.T) {
	m := NewMerging(cmp, []Iterator{
		newSliceIterator("a", "c", "e"),
		newSliceIterator("b", "d"),
	})
	require.True(t, m.SeekToFirst())
	require.Equal(t, "a", string(m.Key()))
	require.True(t, m.Next())
	require.Equal(t, "b", string(m.Key()))
	require.True(t, m.Next())
	require.Equal(t, "c", string(m.Key()))

	// Reverse direction mid-scan: Prev from "c" must land on "b", the
	// entry immediately before it, not re-visit "c" or skip past "b".
	require.True(t, m.Prev())
	require.Equal(t, "b", string(m.Key()))
}

func TestMergingEmptyChildrenIsInvalid(t *testing.T) {
	m := NewMerging(cmp, []Iterator{newSliceIterator(), newSliceIterator()})
	require.False(t, m.SeekToFirst())
	require.False(t, m.Valid())
}

func TestMergingClosePropagatesToChildren(t *testing.T) {
	m := NewMerging(cmp, []Iterator{newSliceIterator("a"), newSliceIterator("b")})
	require.NoError(t, m.Close())
}
