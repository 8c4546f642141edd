package version

import (
	"sort"
	"sync/atomic"

	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/sstable"
)

// GetResult mirrors the memtable package's explicit-variant lookup
// outcome (spec §9), kept as its own type since Version additionally
// needs Corrupt.
type GetResult int

const (
	NotFound GetResult = iota
	Found
	Deleted
	Corrupt
)

// TableProvider opens (or fetches from a table cache) a reader for a
// file. Versions never open files directly so that every level-file
// read goes through whatever caching layer the engine wires in (spec
// §4.D).
// Get returns a reader for meta plus a release func the caller must
// invoke exactly once when done with it (typically backed by a table
// cache handle, so the reader can be safely evicted once unreferenced).
type TableProvider interface {
	Get(meta *FileMetadata) (r *sstable.Reader, release func(), err error)
}

// ReadStats records which file a multi-file Get had to consult, fed
// back into UpdateStats to drive seek-triggered compaction (spec §4.G).
type ReadStats struct {
	SeekFile      *FileMetadata
	SeekFileLevel int
}

// Version is one immutable file-set snapshot: the set of files at each
// level at a point in the manifest's edit history (spec §4.G).
type Version struct {
	cmp    *ikey.InternalComparator
	config Config

	files [][]*FileMetadata // indexed by level

	refs int32

	prev, next *Version // doubly linked list owned by VersionSet

	compactionScore float64
	compactionLevel int

	// seek-compaction candidate, set by UpdateStats when a file's
	// AllowedSeeks budget is exhausted.
	fileToCompact      *FileMetadata
	fileToCompactLevel int
}

func newVersion(cmp *ikey.InternalComparator, config Config) *Version {
	return &Version{
		cmp:    cmp,
		config: config,
		files:  make([][]*FileMetadata, config.Levels),
	}
}

func (v *Version) Ref()   { atomic.AddInt32(&v.refs, 1) }
func (v *Version) Unref() int32 { return atomic.AddInt32(&v.refs, -1) }

func (v *Version) Files(level int) []*FileMetadata { return v.files[level] }

func (v *Version) NumLevels() int { return len(v.files) }

func (v *Version) CompactionScore() (level int, score float64) {
	return v.compactionLevel, v.compactionScore
}

func (v *Version) FileToCompact() (*FileMetadata, int) {
	return v.fileToCompact, v.fileToCompactLevel
}

// Get performs a point lookup at an internal lookup key built by the
// caller (spec §4.G): level 0 files overlapping the user key, newest
// file-number first, then each higher level via binary search for the
// single candidate file. Returns the first Found/Deleted result; also
// reports the first file consulted when more than one was probed, for
// UpdateStats.
func (v *Version) Get(tp TableProvider, lookupKey []byte) (value []byte, result GetResult, stats *ReadStats, err error) {
	userKey := ikey.UserKey(lookupKey)
	var firstFile *FileMetadata
	var firstLevel int
	consulted := 0

	tryFile := func(f *FileMetadata, level int) (GetResult, []byte, error, bool) {
		r, release, oerr := tp.Get(f)
		if oerr != nil {
			return Corrupt, nil, oerr, true
		}
		defer release()
		consulted++
		if consulted == 1 {
			firstFile, firstLevel = f, level
		}
		val, gr, gerr := r.InternalGet(lookupKey)
		if gerr != nil {
			return Corrupt, nil, gerr, true
		}
		switch gr {
		case sstable.Found:
			return Found, val, nil, true
		case sstable.Deleted:
			return Deleted, nil, nil, true
		}
		return NotFound, nil, nil, false
	}

	// Level 0: files may overlap; examine newest-file-number first.
	l0 := append([]*FileMetadata(nil), v.files[0]...)
	sort.Slice(l0, func(i, j int) bool { return l0[i].Number > l0[j].Number })
	for _, f := range l0 {
		if !f.Overlaps(v.cmp.User, userKey, userKey) {
			continue
		}
		if res, val, ferr, done := tryFile(f, 0); done {
			if consulted > 1 {
				stats = &ReadStats{SeekFile: firstFile, SeekFileLevel: firstLevel}
			}
			return val, res, stats, ferr
		}
	}

	for level := 1; level < len(v.files); level++ {
		files := v.files[level]
		if len(files) == 0 {
			continue
		}
		idx := sort.Search(len(files), func(i int) bool {
			return v.cmp.Compare(files[i].Largest, lookupKey) >= 0
		})
		if idx >= len(files) {
			continue
		}
		f := files[idx]
		if v.cmp.User.Compare(userKey, ikey.UserKey(f.Smallest)) < 0 {
			continue
		}
		if res, val, ferr, done := tryFile(f, level); done {
			if consulted > 1 {
				stats = &ReadStats{SeekFile: firstFile, SeekFileLevel: firstLevel}
			}
			return val, res, stats, ferr
		}
	}
	if consulted > 1 {
		stats = &ReadStats{SeekFile: firstFile, SeekFileLevel: firstLevel}
	}
	return nil, NotFound, stats, nil
}

// UpdateStats decrements the consulted file's seek budget; once it
// reaches zero and no file is already flagged, this file becomes the
// seek-compaction candidate (spec §4.G).
func (v *Version) UpdateStats(stats *ReadStats) bool {
	if stats == nil || stats.SeekFile == nil {
		return false
	}
	if stats.SeekFile.DecrementSeeks() <= 0 && v.fileToCompact == nil {
		v.fileToCompact = stats.SeekFile
		v.fileToCompactLevel = stats.SeekFileLevel
		return true
	}
	return false
}

// RecordReadSample finds files across levels overlapping userKey; if at
// least two overlap, the first is charged a seek via UpdateStats (spec
// §4.G) — it is what actually would have been consulted had this been a
// Get instead of an iteration step.
func (v *Version) RecordReadSample(userKey []byte) bool {
	var first *FileMetadata
	var firstLevel int
	matches := 0
	for level := 0; level < len(v.files); level++ {
		for _, f := range v.files[level] {
			if !f.Overlaps(v.cmp.User, userKey, userKey) {
				continue
			}
			matches++
			if matches == 1 {
				first, firstLevel = f, level
			}
			if matches >= 2 {
				return v.UpdateStats(&ReadStats{SeekFile: first, SeekFileLevel: firstLevel})
			}
			break // at most one match counted per level, like LevelDB
		}
		if matches >= 2 {
			break
		}
	}
	return false
}

// PickLevelForMemTableOutput chooses the deepest level a freshly
// flushed memtable's output file can land at without creating overlap
// trouble (spec §4.G).
func (v *Version) PickLevelForMemTableOutput(smallest, largest []byte) int {
	level := 0
	if v.overlapsLevel(0, smallest, largest) {
		return 0
	}
	for level < v.config.MaxMemCompactLevel {
		if v.overlapsLevel(level+1, smallest, largest) {
			break
		}
		if level+2 < len(v.files) {
			overlapBytes := v.sumOverlapBytes(level+2, smallest, largest)
			if overlapBytes > v.config.MaxGrandparentOverlap {
				break
			}
		}
		level++
	}
	return level
}

func (v *Version) overlapsLevel(level int, begin, end []byte) bool {
	for _, f := range v.files[level] {
		if f.Overlaps(v.cmp.User, begin, end) {
			return true
		}
	}
	return false
}

func (v *Version) sumOverlapBytes(level int, begin, end []byte) uint64 {
	var total uint64
	for _, f := range v.files[level] {
		if f.Overlaps(v.cmp.User, begin, end) {
			total += f.Size
		}
	}
	return total
}

// GetOverlappingInputs collects files at level whose user-key range
// intersects [begin,end]. At level 0, because files may overlap each
// other, the query range is expanded to cover every newly selected
// file's own range and the scan restarts until the set is closed under
// overlap (spec §4.G).
func (v *Version) GetOverlappingInputs(level int, begin, end []byte) []*FileMetadata {
	var result []*FileMetadata
	userBegin, userEnd := begin, end
	for i := 0; i < len(v.files[level]); i++ {
		f := v.files[level][i]
		if !f.Overlaps(v.cmp.User, userBegin, userEnd) {
			continue
		}
		result = append(result, f)
		if level != 0 {
			continue
		}
		expanded := false
		if userBegin != nil && v.cmp.User.Compare(ikey.UserKey(f.Smallest), userBegin) < 0 {
			userBegin = ikey.UserKey(f.Smallest)
			expanded = true
		}
		if userEnd != nil && v.cmp.User.Compare(ikey.UserKey(f.Largest), userEnd) > 0 {
			userEnd = ikey.UserKey(f.Largest)
			expanded = true
		}
		if expanded {
			result = nil
			i = -1
		}
	}
	return result
}
