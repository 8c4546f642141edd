package memtable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkv/lsmkv/internal/ikey"
)

func newTestMemtable() *Memtable {
	return New(ikey.NewInternalComparator(ikey.BytewiseComparator{}))
}

func TestAddAndGetNewestWins(t *testing.T) {
	m := newTestMemtable()
	m.Add(1, ikey.TypeValue, []byte("k"), []byte("v1"))
	m.Add(2, ikey.TypeValue, []byte("k"), []byte("v2"))

	val, res := m.Get([]byte("k"), 10)
	require.Equal(t, Found, res)
	require.Equal(t, []byte("v2"), val)

	val, res = m.Get([]byte("k"), 1)
	require.Equal(t, Found, res)
	require.Equal(t, []byte("v1"), val)
}

func TestGetNotFound(t *testing.T) {
	m := newTestMemtable()
	_, res := m.Get([]byte("missing"), 100)
	require.Equal(t, NotFound, res)
}

func TestGetDeleted(t *testing.T) {
	m := newTestMemtable()
	m.Add(1, ikey.TypeValue, []byte("k"), []byte("v1"))
	m.Add(2, ikey.TypeDeletion, []byte("k"), nil)

	_, res := m.Get([]byte("k"), 10)
	require.Equal(t, Deleted, res)

	val, res := m.Get([]byte("k"), 1)
	require.Equal(t, Found, res)
	require.Equal(t, []byte("v1"), val)
}

func TestIteratorVisitsInInternalKeyOrder(t *testing.T) {
	m := newTestMemtable()
	m.Add(1, ikey.TypeValue, []byte("b"), []byte("2"))
	m.Add(1, ikey.TypeValue, []byte("a"), []byte("1"))
	m.Add(2, ikey.TypeValue, []byte("a"), []byte("1-new"))

	it := m.NewIterator()
	require.True(t, it.SeekToFirst())
	require.Equal(t, []byte("a"), ikey.UserKey(it.Key()))
	require.Equal(t, []byte("1-new"), it.Value(), "higher sequence for the same user key sorts first")

	require.True(t, it.Next())
	require.Equal(t, []byte("a"), ikey.UserKey(it.Key()))
	require.Equal(t, []byte("1"), it.Value())

	require.True(t, it.Next())
	require.Equal(t, []byte("b"), ikey.UserKey(it.Key()))

	require.False(t, it.Next())
}

func TestIteratorSeekToLastAndPrev(t *testing.T) {
	m := newTestMemtable()
	m.Add(1, ikey.TypeValue, []byte("a"), []byte("1"))
	m.Add(1, ikey.TypeValue, []byte("b"), []byte("2"))
	m.Add(1, ikey.TypeValue, []byte("c"), []byte("3"))

	it := m.NewIterator()
	require.True(t, it.SeekToLast())
	require.Equal(t, []byte("c"), ikey.UserKey(it.Key()))

	require.True(t, it.Prev())
	require.Equal(t, []byte("b"), ikey.UserKey(it.Key()))

	require.True(t, it.Prev())
	require.Equal(t, []byte("a"), ikey.UserKey(it.Key()))

	require.False(t, it.Prev())
}

func TestApproximateMemoryUsageGrows(t *testing.T) {
	m := newTestMemtable()
	require.Zero(t, m.ApproximateMemoryUsage())
	m.Add(1, ikey.TypeValue, []byte("k"), []byte("v"))
	require.Positive(t, m.ApproximateMemoryUsage())
}

func TestLen(t *testing.T) {
	m := newTestMemtable()
	m.Add(1, ikey.TypeValue, []byte("a"), []byte("1"))
	m.Add(2, ikey.TypeValue, []byte("b"), []byte("2"))
	require.Equal(t, 2, m.Len())
}

func TestRefUnrefPanicsOnImbalance(t *testing.T) {
	m := newTestMemtable()
	m.Unref() // drops the initial ref to zero
	require.Panics(t, func() { m.Unref() })
}
