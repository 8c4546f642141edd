package lsmkv

import (
	"time"

	"github.com/lsmkv/lsmkv/internal/batch"
	"github.com/lsmkv/lsmkv/internal/dbfile"
	"github.com/lsmkv/lsmkv/internal/memtable"
	"github.com/lsmkv/lsmkv/internal/status"
	"github.com/lsmkv/lsmkv/internal/wal"
)

// maxBatchBytes bounds how much a leader will coalesce from queued
// followers into one WAL record (spec §4.I). smallBatchBytes caps that
// bound down for a small leader batch, so one tiny write never waits
// behind a full 1 MiB group.
const (
	maxBatchBytes   = 1 << 20
	smallBatchBytes = 128 << 10
)

// Put writes a single key/value pair, equivalent to Write with a
// one-entry batch.
func (db *DB) Put(wo WriteOptions, key, value []byte) error {
	b := batch.New()
	b.Put(key, value)
	return db.Write(wo, b)
}

// Delete removes key (a no-op if it is already absent), equivalent to
// Write with a one-entry batch.
func (db *DB) Delete(wo WriteOptions, key []byte) error {
	b := batch.New()
	b.Delete(key)
	return db.Write(wo, b)
}

// Write commits b atomically: either every entry becomes visible to
// subsequent reads or none do. Concurrent writers queue FIFO; whichever
// writer reaches the front of the queue becomes the leader for that
// round, coalescing as many immediately-following compatible writers'
// batches as it can into a single WAL record and memtable insert before
// waking everyone it spoke for (spec §4.I, ported from
// original_source's DBImpl::Write/BuildBatchGroup).
func (db *DB) Write(wo WriteOptions, b *batch.Batch) error {
	w := &writer{batch: b, sync: wo.Sync}

	db.mu.Lock()
	db.writers = append(db.writers, w)
	for !w.done && db.writers[0] != w {
		db.writerCond.Wait()
	}
	if w.done {
		db.mu.Unlock()
		return w.err
	}
	// w is now the leader: front of the queue and not yet serviced.

	var err error
	if db.closed {
		err = status.InvalidArgumentf("lsmkv: database is closed")
	} else {
		err = db.makeRoomForWriteLocked(false)
	}

	last := w
	if err == nil {
		group, groupLast := db.buildBatchGroupLocked(w)
		last = groupLast
		if group.Count() > 0 {
			seq := db.versions.LastSequence() + 1
			payload := batch.Encode(seq, group)
			walWriter := db.walWriter
			mem := db.mem

			db.mu.Unlock()
			werr := walWriter.AddRecord(payload, w.sync)
			if werr == nil {
				applyBatchToMemtable(mem, seq, group)
			}
			db.mu.Lock()

			if werr != nil {
				err = werr
				db.setBgErrorLocked(werr)
			} else {
				db.versions.SetLastSequence(seq + uint64(group.Count()) - 1)
				db.metrics.WriteBatchSize.Observe(float64(group.Count()))
			}
		}
	}

	for {
		front := db.writers[0]
		db.writers = db.writers[1:]
		if front != w {
			front.err = err
			front.done = true
		}
		if front == last {
			break
		}
	}
	if len(db.writers) > 0 {
		db.writerCond.Broadcast()
	}
	db.mu.Unlock()
	return err
}

// buildBatchGroupLocked merges w and as many immediately-following
// queued writers as are compatible (spec §4.I): a follower requiring a
// synced write is never folded into a group whose leader didn't ask for
// one, since that would silently upgrade or delay its durability
// contract either way.
func (db *DB) buildBatchGroupLocked(w *writer) (*batch.Batch, *writer) {
	group := batch.New()
	group.Append(w.batch)

	limit := maxBatchBytes
	if size := w.batch.ByteSize(); size <= smallBatchBytes {
		limit = size + smallBatchBytes
	}

	last := w
	size := w.batch.ByteSize()
	for i := 1; i < len(db.writers); i++ {
		follower := db.writers[i]
		if follower.sync && !w.sync {
			break
		}
		size += follower.batch.ByteSize()
		if size > limit {
			break
		}
		group.Append(follower.batch)
		last = follower
	}
	return group, last
}

func applyBatchToMemtable(mem *memtable.Memtable, startSeq uint64, b *batch.Batch) {
	seq := startSeq
	for _, e := range b.Entries() {
		mem.Add(seq, e.Type, e.Key, e.Value)
		seq++
	}
}

// makeRoomForWriteLocked ensures the active memtable has room for
// another write, applying level-0 backpressure and rotating the
// memtable when it's full (spec §4.I, ported from original_source's
// DBImpl::MakeRoomForWrite). Called and returns with db.mu held; may
// release it across a backpressure sleep or a background-work wait.
func (db *DB) makeRoomForWriteLocked(force bool) error {
	allowDelay := !force
	for {
		switch {
		case db.bgError != nil:
			return db.bgError

		case allowDelay && len(db.versions.Current().Files(0)) >= db.opts.L0SlowdownWrites:
			// One millisecond, and only once per write: enough to let a
			// flush make progress without turning every write into a long
			// stall (spec §4.G).
			db.metrics.WriteStalls.Inc()
			db.mu.Unlock()
			time.Sleep(time.Millisecond)
			db.mu.Lock()
			allowDelay = false

		case !force && db.mem.ApproximateMemoryUsage() < int64(db.opts.WriteBufferSize):
			return nil

		case !db.flushQueue.empty():
			// Already one immutable memtable queued; the engine's
			// memtable invariant forbids a second, so wait for the
			// background flush to drain it.
			db.metrics.WriteStalls.Inc()
			db.backgroundCond.Wait()

		case len(db.versions.Current().Files(0)) >= db.opts.L0StopWrites:
			db.metrics.WriteStalls.Inc()
			db.backgroundCond.Wait()

		default:
			sealedLogNumber := db.walFileNumber
			newLogNumber := db.versions.NewFileNumber()
			newWriter, err := wal.Create(dbfile.LogFileName(db.dirname, newLogNumber))
			if err != nil {
				db.versions.MarkFileNumberUsed(newLogNumber)
				return status.WrapIO(err, "lsmkv: create log file")
			}
			db.walWriter.Close()
			db.walWriter = newWriter
			db.walFileNumber = newLogNumber

			db.flushQueue.push(&memtableRef{table: db.mem, logNumber: sealedLogNumber})
			db.mem = memtable.New(db.icmp)
			force = false
			db.compactor.maybeSchedule()
		}
	}
}
