package lsmkv

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlushPushesMemtableDownToMaxMemCompactLevel(t *testing.T) {
	opts := DefaultOptions()
	opts.WriteBufferSize = 64
	db, err := Open(t.TempDir(), opts)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put(WriteOptions{}, []byte("k1"), []byte("v1")))
	require.NoError(t, db.Put(WriteOptions{}, []byte("k2"), []byte("v2")))
	// Each entry charges 60 bytes, so only k2 takes the memtable past the
	// 64-byte budget; the write of k3 seals it.
	require.NoError(t, db.Put(WriteOptions{}, []byte("k3"), []byte("v3")))

	require.Eventually(t, func() bool {
		st := db.Stats()
		return st.Levels[db.opts.MaxMemCompactLevel].Files >= 1
	}, 5*time.Second, 10*time.Millisecond, "on an empty database the sealed memtable should flush down to max_mem_compact_level in the background")

	val, err := db.Get(ReadOptions{}, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)
}

func TestCompactionReducesLevelZeroFileCountOnceTriggered(t *testing.T) {
	opts := DefaultOptions()
	opts.WriteBufferSize = 64
	db, err := Open(t.TempDir(), opts)
	require.NoError(t, err)
	defer db.Close()

	trigger := db.opts.L0CompactionTrigger

	// Force one flush (and one L0 file) per write by always sealing the
	// active memtable before the next write lands.
	for i := 0; i < trigger+2; i++ {
		key := []byte("k" + strconv.Itoa(i))
		require.NoError(t, db.Put(WriteOptions{Sync: true}, key, key))
		require.Eventually(t, func() bool {
			db.mu.Lock()
			empty := db.flushQueue.empty()
			db.mu.Unlock()
			return empty
		}, 5*time.Second, 5*time.Millisecond)
	}

	require.Eventually(t, func() bool {
		st := db.Stats()
		return st.Levels[0].Files < trigger+2
	}, 5*time.Second, 10*time.Millisecond, "background compaction should have moved some level-0 files down")
}

func TestTableCacheReusesReaderAcrossRepeatedGets(t *testing.T) {
	opts := DefaultOptions()
	opts.WriteBufferSize = 1
	db, err := Open(t.TempDir(), opts)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put(WriteOptions{}, []byte("k"), []byte("v")))
	// The empty memtable takes "k" without rotating; the next write seals it.
	require.NoError(t, db.Put(WriteOptions{}, []byte("k2"), []byte("v2")))
	require.Eventually(t, func() bool {
		return db.Stats().Levels[db.opts.MaxMemCompactLevel].Files >= 1
	}, 5*time.Second, 10*time.Millisecond)

	for i := 0; i < 10; i++ {
		val, err := db.Get(ReadOptions{}, []byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("v"), val)
	}
	require.GreaterOrEqual(t, db.tableCache.TableCount(), 1)
}
