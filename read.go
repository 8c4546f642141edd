package lsmkv

import (
	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/memtable"
	"github.com/lsmkv/lsmkv/internal/status"
	"github.com/lsmkv/lsmkv/internal/version"
)

// Get returns the value for key, or a status.NotFound error if it does
// not exist (or has been deleted). Read order is active memtable, then
// a queued immutable memtable, then the current version's sorted files
// (spec §4.D: "Read path"), each restricted to entries visible at
// ro.Snapshot (or the engine's current sequence with no snapshot set).
func (db *DB) Get(ro ReadOptions, key []byte) ([]byte, error) {
	db.mu.Lock()
	seq := db.versions.LastSequence()
	if ro.Snapshot != nil {
		seq = ro.Snapshot.Sequence()
	}
	mem := db.mem
	mem.Ref()
	var imm *memtable.Memtable
	if ref := db.flushQueue.peek(); ref != nil {
		imm = ref.table
		imm.Ref()
	}
	cur := db.versions.Current()
	db.versions.RefVersion(cur)
	db.mu.Unlock()

	defer mem.Unref()
	if imm != nil {
		defer imm.Unref()
	}
	defer db.versions.UnrefVersion(cur)

	db.metrics.ReadsTotal.Inc()

	if val, res := mem.Get(key, seq); res != memtable.NotFound {
		return db.finishGet(val, res == memtable.Found)
	}
	if imm != nil {
		if val, res := imm.Get(key, seq); res != memtable.NotFound {
			return db.finishGet(val, res == memtable.Found)
		}
	}

	lookup := ikey.LookupKey(key, seq)
	val, result, stats, err := cur.Get(db.tableCache, lookup)
	if err != nil {
		return nil, err
	}

	if stats != nil {
		db.mu.Lock()
		if cur.UpdateStats(stats) {
			db.compactor.maybeSchedule()
		}
		db.mu.Unlock()
	}

	return db.finishGet(val, result == version.Found)
}

func (db *DB) finishGet(val []byte, found bool) ([]byte, error) {
	if !found {
		return nil, status.NotFoundf("lsmkv: key not found")
	}
	db.metrics.ReadsFound.Inc()
	return val, nil
}

// GetSnapshot pins the engine's current sequence number so a later
// Get/NewIterator using it never observes writes committed afterward
// (spec §4.I "Ordering"). The caller must eventually call
// ReleaseSnapshot.
func (db *DB) GetSnapshot() *Snapshot {
	return db.snapshots.acquire(db.versions.LastSequence())
}

// ReleaseSnapshot unpins a snapshot acquired via GetSnapshot.
func (db *DB) ReleaseSnapshot(s *Snapshot) {
	db.snapshots.release(s)
}
