package lsmkv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIteratorScansInOrder(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put(WriteOptions{}, []byte("b"), []byte("2")))
	require.NoError(t, db.Put(WriteOptions{}, []byte("a"), []byte("1")))
	require.NoError(t, db.Put(WriteOptions{}, []byte("c"), []byte("3")))

	it := db.NewIterator(ReadOptions{})
	defer it.Close()

	var keys []string
	for valid := it.SeekToFirst(); valid; valid = it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Error())
	require.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestIteratorSkipsTombstonesAndSupersededVersions(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put(WriteOptions{}, []byte("a"), []byte("1")))
	require.NoError(t, db.Put(WriteOptions{}, []byte("b"), []byte("1")))
	require.NoError(t, db.Put(WriteOptions{}, []byte("b"), []byte("2")))
	require.NoError(t, db.Delete(WriteOptions{}, []byte("a")))

	it := db.NewIterator(ReadOptions{})
	defer it.Close()

	require.True(t, it.SeekToFirst())
	require.Equal(t, "b", string(it.Key()))
	require.Equal(t, "2", string(it.Value()))
	require.False(t, it.Next())
}

func TestIteratorReverseScan(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put(WriteOptions{}, []byte("a"), []byte("1")))
	require.NoError(t, db.Put(WriteOptions{}, []byte("b"), []byte("2")))
	require.NoError(t, db.Put(WriteOptions{}, []byte("c"), []byte("3")))

	it := db.NewIterator(ReadOptions{})
	defer it.Close()

	var keys []string
	for valid := it.SeekToLast(); valid; valid = it.Prev() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"c", "b", "a"}, keys)
}

func TestIteratorSeek(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put(WriteOptions{}, []byte("a"), []byte("1")))
	require.NoError(t, db.Put(WriteOptions{}, []byte("c"), []byte("3")))
	require.NoError(t, db.Put(WriteOptions{}, []byte("e"), []byte("5")))

	it := db.NewIterator(ReadOptions{})
	defer it.Close()

	require.True(t, it.Seek([]byte("b")))
	require.Equal(t, "c", string(it.Key()), "Seek lands on the first key at or after the target")
}

func TestIteratorRespectsSnapshot(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put(WriteOptions{}, []byte("a"), []byte("1")))

	snap := db.GetSnapshot()
	defer db.ReleaseSnapshot(snap)

	require.NoError(t, db.Put(WriteOptions{}, []byte("b"), []byte("2")))

	it := db.NewIterator(ReadOptions{Snapshot: snap})
	defer it.Close()

	var keys []string
	for valid := it.SeekToFirst(); valid; valid = it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"a"}, keys, "iterator built from a snapshot must not see writes committed after it")
}

func TestIteratorChangeOfDirectionForwardThenBackward(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put(WriteOptions{}, []byte("a"), []byte("1")))
	require.NoError(t, db.Put(WriteOptions{}, []byte("b"), []byte("2")))
	require.NoError(t, db.Put(WriteOptions{}, []byte("c"), []byte("3")))

	it := db.NewIterator(ReadOptions{})
	defer it.Close()

	require.True(t, it.SeekToFirst())
	require.Equal(t, "a", string(it.Key()))
	require.True(t, it.Next())
	require.Equal(t, "b", string(it.Key()))
	require.True(t, it.Next())
	require.Equal(t, "c", string(it.Key()))

	require.True(t, it.Prev())
	require.Equal(t, "b", string(it.Key()))
	require.True(t, it.Prev())
	require.Equal(t, "a", string(it.Key()))
}
