package lsmkv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkv/lsmkv/internal/batch"
	"github.com/lsmkv/lsmkv/internal/status"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	opts := DefaultOptions()
	opts.WriteBufferSize = 1 << 20
	db, err := Open(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutGetDelete(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Put(WriteOptions{}, []byte("k1"), []byte("v1")))
	val, err := db.Get(ReadOptions{}, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)

	require.NoError(t, db.Delete(WriteOptions{}, []byte("k1")))
	_, err = db.Get(ReadOptions{}, []byte("k1"))
	require.True(t, status.Is(err, status.NotFound))
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Get(ReadOptions{}, []byte("nope"))
	require.True(t, status.Is(err, status.NotFound))
}

func TestOverwriteReturnsNewestValue(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put(WriteOptions{}, []byte("k"), []byte("v1")))
	require.NoError(t, db.Put(WriteOptions{}, []byte("k"), []byte("v2")))

	val, err := db.Get(ReadOptions{}, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), val)
}

func TestSnapshotIsolation(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put(WriteOptions{}, []byte("k"), []byte("before")))

	snap := db.GetSnapshot()
	defer db.ReleaseSnapshot(snap)

	require.NoError(t, db.Put(WriteOptions{}, []byte("k"), []byte("after")))

	val, err := db.Get(ReadOptions{Snapshot: snap}, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("before"), val, "a snapshot must not observe writes committed after it was taken")

	val, err = db.Get(ReadOptions{}, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("after"), val)
}

func TestSnapshotOfDeletedKeyStillSeesOldValue(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put(WriteOptions{}, []byte("k"), []byte("v")))

	snap := db.GetSnapshot()
	defer db.ReleaseSnapshot(snap)

	require.NoError(t, db.Delete(WriteOptions{}, []byte("k")))

	val, err := db.Get(ReadOptions{Snapshot: snap}, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), val)

	_, err = db.Get(ReadOptions{}, []byte("k"))
	require.True(t, status.Is(err, status.NotFound))
}

func TestWriteBatchIsAtomicAcrossKeys(t *testing.T) {
	db := openTestDB(t)

	b := batch.New()
	b.Put([]byte("a"), []byte("1"))
	b.Put([]byte("b"), []byte("2"))
	require.NoError(t, db.Write(WriteOptions{}, b))

	va, err := db.Get(ReadOptions{}, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), va)

	vb, err := db.Get(ReadOptions{}, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), vb)
}

func TestReopenRecoversWrittenData(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()

	db, err := Open(dir, opts)
	require.NoError(t, err)
	require.NoError(t, db.Put(WriteOptions{Sync: true}, []byte("k1"), []byte("v1")))
	require.NoError(t, db.Put(WriteOptions{Sync: true}, []byte("k2"), []byte("v2")))
	require.NoError(t, db.Close())

	db2, err := Open(dir, opts)
	require.NoError(t, err)
	defer db2.Close()

	val, err := db2.Get(ReadOptions{}, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)

	val, err = db2.Get(ReadOptions{}, []byte("k2"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), val)
}

func TestOpenWithoutCreateIfMissingFailsOnMissingDir(t *testing.T) {
	opts := DefaultOptions()
	opts.CreateIfMissing = false
	_, err := Open(t.TempDir()+"/does-not-exist", opts)
	require.Error(t, err)
}

func TestStatsReportsPerLevelTotals(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put(WriteOptions{}, []byte("k"), []byte("v")))

	st := db.Stats()
	require.NotEmpty(t, st.Levels)
	require.Equal(t, 0, st.Levels[0].Level)
}

func TestCompactRangeOnEmptyDatabaseIsANoop(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.CompactRange(nil, nil))
}
