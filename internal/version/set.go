package version

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/wal"
)

// VersionSet owns the current Version, the history needed to reach it
// (the doubly linked list of still-referenced versions), and the
// manifest log that persists every edit (spec §4.G). It is not
// internally synchronized against the rest of its own fields — callers
// (the engine) are expected to hold their own coarser lock around
// LogAndApply and the bookkeeping accessors, mirroring LevelDB's
// DBImpl::mutex_ guarding version_set_ directly. Only the linked-list
// splice itself (Ref/Unref from readers that may run outside that lock)
// gets its own listMu.
type VersionSet struct {
	cmp     *ikey.InternalComparator
	config  Config
	dirname string
	log     *zap.SugaredLogger

	listMu        sync.Mutex
	dummyVersions Version
	current       *Version

	manifestWriter     *wal.Writer
	manifestFileNumber uint64

	nextFileNumber uint64 // atomic
	lastSequence   uint64 // atomic
	logNumber      uint64
	prevLogNumber  uint64

	compactPointer [][]byte // per level, internal key
}

func New(dirname string, cmp *ikey.InternalComparator, config Config, log *zap.SugaredLogger) *VersionSet {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	vs := &VersionSet{
		cmp:            cmp,
		config:         config,
		dirname:        dirname,
		log:            log.With("component", "version"),
		nextFileNumber: 2, // numbers are handed out from 2; 1 is never used
		compactPointer: make([][]byte, config.Levels),
	}
	vs.dummyVersions.prev = &vs.dummyVersions
	vs.dummyVersions.next = &vs.dummyVersions
	vs.appendVersion(newVersion(cmp, config))
	return vs
}

func (vs *VersionSet) Config() Config                        { return vs.config }
func (vs *VersionSet) Comparator() *ikey.InternalComparator { return vs.cmp }
func (vs *VersionSet) Current() *Version                     { return vs.current }

func (vs *VersionSet) LogNumber() uint64     { return vs.logNumber }
func (vs *VersionSet) PrevLogNumber() uint64 { return vs.prevLogNumber }

func (vs *VersionSet) NewFileNumber() uint64 {
	return atomic.AddUint64(&vs.nextFileNumber, 1) - 1
}

// MarkFileNumberUsed ensures NewFileNumber will never hand out a number
// already seen in a recovered manifest edit.
func (vs *VersionSet) MarkFileNumberUsed(number uint64) {
	for {
		cur := atomic.LoadUint64(&vs.nextFileNumber)
		if number < cur {
			return
		}
		if atomic.CompareAndSwapUint64(&vs.nextFileNumber, cur, number+1) {
			return
		}
	}
}

func (vs *VersionSet) LastSequence() uint64 { return atomic.LoadUint64(&vs.lastSequence) }

func (vs *VersionSet) SetLastSequence(seq uint64) {
	for {
		cur := atomic.LoadUint64(&vs.lastSequence)
		if seq <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&vs.lastSequence, cur, seq) {
			return
		}
	}
}

func (vs *VersionSet) CompactPointer(level int) []byte { return vs.compactPointer[level] }

// appendVersion installs v as current, linking it at the tail of the
// doubly-linked history and dropping the previous current's implicit
// reference.
func (vs *VersionSet) appendVersion(v *Version) {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()

	v.Ref()
	v.prev = vs.dummyVersions.prev
	v.next = &vs.dummyVersions
	vs.dummyVersions.prev.next = v
	vs.dummyVersions.prev = v

	old := vs.current
	vs.current = v
	if old != nil {
		vs.unrefLocked(old)
	}
}

// RefVersion pins v so it outlives a subsequent appendVersion; callers
// (snapshot iterators, in-flight compactions) must pair this with
// UnrefVersion.
func (vs *VersionSet) RefVersion(v *Version) {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()
	v.Ref()
}

func (vs *VersionSet) UnrefVersion(v *Version) {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()
	vs.unrefLocked(v)
}

func (vs *VersionSet) unrefLocked(v *Version) {
	if v.Unref() <= 0 && v.prev != nil {
		v.prev.next = v.next
		v.next.prev = v.prev
		v.prev, v.next = nil, nil
	}
}

// LiveFiles unions file numbers across every version still reachable
// from the linked list — the set that must survive physical file
// deletion (spec §5).
func (vs *VersionSet) LiveFiles() map[uint64]bool {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()
	live := make(map[uint64]bool)
	for v := vs.dummyVersions.next; v != &vs.dummyVersions; v = v.next {
		for _, files := range v.files {
			for _, f := range files {
				live[f.Number] = true
			}
		}
	}
	return live
}

// NeedsCompaction reports whether the current version warrants
// scheduling background work: a size-triggered score at or above 1, or
// a file already flagged by seek statistics (spec §4.I).
func (vs *VersionSet) NeedsCompaction() bool {
	_, score := vs.current.CompactionScore()
	if score >= 1 {
		return true
	}
	f, _ := vs.current.FileToCompact()
	return f != nil
}

// LogAndApply fills in bookkeeping fields on edit, builds the next
// version from the current one plus edit, persists edit to the
// manifest, and on success installs the new version. The caller must
// hold its own lock around this call (spec §5: "the manifest is written
// under a held engine lock, except the actual file append/fsync
// releases the lock around the I/O").
func (vs *VersionSet) LogAndApply(edit *Edit) error {
	if !edit.HasNextFileNumber {
		edit.HasNextFileNumber = true
		edit.NextFileNumber = atomic.LoadUint64(&vs.nextFileNumber)
	}
	if !edit.HasLastSequence {
		edit.HasLastSequence = true
		edit.LastSequence = vs.LastSequence()
	}
	if !edit.HasLogNumber {
		edit.HasLogNumber = true
		edit.LogNumber = vs.logNumber
	}
	edit.PrevLogNumber, edit.HasPrevLogNumber = vs.prevLogNumber, true

	b := NewBuilder(vs.cmp, vs.current)
	b.Apply(edit)
	next, err := b.SaveTo()
	if err != nil {
		return err
	}
	Finalize(next)

	if vs.manifestWriter == nil {
		if err := vs.createManifest(edit); err != nil {
			return err
		}
	} else if err := vs.manifestWriter.AddRecord(edit.Encode(), true); err != nil {
		return err
	}

	vs.logNumber = edit.LogNumber
	vs.prevLogNumber = edit.PrevLogNumber
	vs.MarkFileNumberUsed(edit.NextFileNumber - 1)
	vs.SetLastSequence(edit.LastSequence)
	for _, cp := range edit.CompactPointers {
		vs.compactPointer[cp.Level] = cp.Key
	}

	vs.appendVersion(next)
	vs.log.Debugw("applied version edit",
		"log_number", vs.logNumber, "next_file_number", edit.NextFileNumber,
		"last_sequence", edit.LastSequence, "new_files", len(edit.NewFiles),
		"deleted_files", len(edit.DeletedFiles))
	return nil
}
