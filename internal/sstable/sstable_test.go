package sstable

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkv/lsmkv/internal/ikey"
)

type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

func buildTestTable(t *testing.T, opts BuilderOptions, entries [][2]string) (*Reader, func()) {
	t.Helper()
	cmp := ikey.NewInternalComparator(ikey.BytewiseComparator{})
	var buf bytes.Buffer
	b := NewBuilder(&buf, cmp, opts)
	for i, e := range entries {
		key := ikey.Make([]byte(e[0]), uint64(i+1), ikey.TypeValue)
		require.NoError(t, b.Add(key, []byte(e[1])))
	}
	size, err := b.Finish()
	require.NoError(t, err)

	f := memFile{bytes.NewReader(buf.Bytes())}
	r, err := Open(f, size, cmp, Options{FileNumber: 1})
	require.NoError(t, err)
	return r, func() { r.Close() }
}

func TestBuilderReaderRoundTripSmallBlocks(t *testing.T) {
	r, closeFn := buildTestTable(t, BuilderOptions{BlockSize: 1}, [][2]string{
		{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"},
	})
	defer closeFn()

	it := r.NewIterator()
	var keys []string
	for ok := it.SeekToFirst(); ok; ok = it.Next() {
		keys = append(keys, string(ikey.UserKey(it.Key())))
	}
	require.NoError(t, it.Error())
	require.Equal(t, []string{"a", "b", "c", "d"}, keys)
}

func TestInternalGetFindsValueAndReportsDeleted(t *testing.T) {
	cmp := ikey.NewInternalComparator(ikey.BytewiseComparator{})
	var buf bytes.Buffer
	b := NewBuilder(&buf, cmp, BuilderOptions{})
	require.NoError(t, b.Add(ikey.Make([]byte("a"), 1, ikey.TypeValue), []byte("1")))
	require.NoError(t, b.Add(ikey.Make([]byte("b"), 2, ikey.TypeDeletion), nil))
	size, err := b.Finish()
	require.NoError(t, err)

	r, err := Open(memFile{bytes.NewReader(buf.Bytes())}, size, cmp, Options{})
	require.NoError(t, err)
	defer r.Close()

	value, result, err := r.InternalGet(ikey.Make([]byte("a"), 1, ikey.TypeValue))
	require.NoError(t, err)
	require.Equal(t, Found, result)
	require.Equal(t, []byte("1"), value)

	_, result, err = r.InternalGet(ikey.Make([]byte("b"), 2, ikey.TypeDeletion))
	require.NoError(t, err)
	require.Equal(t, Deleted, result)

	_, result, err = r.InternalGet(ikey.Make([]byte("z"), 1, ikey.TypeValue))
	require.NoError(t, err)
	require.Equal(t, NotFound, result)
}

func TestBuilderRejectsOutOfOrderKeys(t *testing.T) {
	cmp := ikey.NewInternalComparator(ikey.BytewiseComparator{})
	var buf bytes.Buffer
	b := NewBuilder(&buf, cmp, BuilderOptions{})
	require.NoError(t, b.Add(ikey.Make([]byte("b"), 1, ikey.TypeValue), []byte("1")))
	require.Error(t, b.Add(ikey.Make([]byte("a"), 1, ikey.TypeValue), []byte("2")))
}

func TestFilterBlockFiltersOutAbsentKeys(t *testing.T) {
	r, closeFn := buildTestTable(t, BuilderOptions{Filter: true}, [][2]string{
		{"a", "1"}, {"m", "2"}, {"z", "3"},
	})
	defer closeFn()

	_, result, err := r.InternalGet(ikey.Make([]byte("zzz-not-present"), 1, ikey.TypeValue))
	require.NoError(t, err)
	require.Equal(t, NotFound, result)
}

func TestTwoLevelIteratorSeekAndReverse(t *testing.T) {
	r, closeFn := buildTestTable(t, BuilderOptions{BlockSize: 1}, [][2]string{
		{"a", "1"}, {"c", "2"}, {"e", "3"},
	})
	defer closeFn()

	it := r.NewIterator()
	require.True(t, it.Seek(ikey.Make([]byte("b"), 1, ikey.TypeValue)))
	require.Equal(t, "c", string(ikey.UserKey(it.Key())))

	require.True(t, it.SeekToLast())
	require.Equal(t, "e", string(ikey.UserKey(it.Key())))
	require.True(t, it.Prev())
	require.Equal(t, "c", string(ikey.UserKey(it.Key())))
}
