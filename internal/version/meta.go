// Package version implements immutable file-set snapshots of a
// database (Version), the manifest-backed history of edits between them
// (VersionSet), and the edit-accumulator used to apply a batch of
// changes (Builder) — spec §4.G.
//
// Grounded on original_source/leveldb-master's db/version_set.{h,cc} for
// the algorithms (Get search order, PickLevelForMemTableOutput,
// GetOverlappingInputs, Builder/Finalize scoring), translated into Go
// using the tagged-varint VersionEdit encoding idiom from
// cockroachdb-pebble's leveldb-compat package (leveldb/version_edit.go,
// pack) — the only repo in the pack that implements this exact on-disk
// format in Go.
package version

import (
	"sync/atomic"

	"github.com/lsmkv/lsmkv/internal/ikey"
)

// Config carries the tunables spec §4.G enumerates. Levels are indexed
// 0..Config.Levels-1.
type Config struct {
	Levels                 int
	L0CompactionTrigger    int
	L0SlowdownWrites       int
	L0StopWrites           int
	MaxMemCompactLevel     int
	TargetFileSize         uint64
	MaxGrandparentOverlap  uint64
	ExpandedCompactionLimit uint64
	ReadBytesPeriod        uint64
}

// DefaultConfig matches spec §4.G's table of defaults.
func DefaultConfig() Config {
	target := uint64(2 << 20) // 2 MiB, a conservative target_file_size
	return Config{
		Levels:                  7,
		L0CompactionTrigger:     4,
		L0SlowdownWrites:        8,
		L0StopWrites:            12,
		MaxMemCompactLevel:      2,
		TargetFileSize:          target,
		MaxGrandparentOverlap:   10 * target,
		ExpandedCompactionLimit: 25 * target,
		ReadBytesPeriod:         1 << 20,
	}
}

// LevelByteBudget returns the target cumulative file size for level,
// per spec §4.G: "level-1 budget 10 MiB; each deeper level ×10."
// Level 0 has no byte budget — its pressure is measured by file count.
func LevelByteBudget(level int) uint64 {
	budget := uint64(10 << 20)
	for l := 1; l < level; l++ {
		budget *= 10
	}
	return budget
}

// FileMetadata describes one sorted table file within a level.
type FileMetadata struct {
	Number   uint64
	Size     uint64
	Smallest []byte // internal key
	Largest  []byte // internal key

	// AllowedSeeks is decremented by UpdateStats; reaching zero without
	// a compaction already queued flags this file as a seek-compaction
	// candidate (spec §4.G).
	AllowedSeeks int32

	BeingCompacted bool
}

// NewFileMetadata computes the initial AllowedSeeks budget: spec §4.G,
// max(100, size/16KiB).
func NewFileMetadata(number, size uint64, smallest, largest []byte) *FileMetadata {
	seeks := int32(size / (16 << 10))
	if seeks < 100 {
		seeks = 100
	}
	return &FileMetadata{
		Number:       number,
		Size:         size,
		Smallest:     append([]byte(nil), smallest...),
		Largest:      append([]byte(nil), largest...),
		AllowedSeeks: seeks,
	}
}

func (f *FileMetadata) DecrementSeeks() int32 {
	return atomic.AddInt32(&f.AllowedSeeks, -1)
}

// Overlaps reports whether f's [Smallest,Largest] internal-key range
// intersects the user-key range [begin,end]; a nil begin/end is
// unbounded on that side.
func (f *FileMetadata) Overlaps(ucmp ikey.Comparator, begin, end []byte) bool {
	if end != nil && ucmp.Compare(ikey.UserKey(f.Smallest), end) > 0 {
		return false
	}
	if begin != nil && ucmp.Compare(ikey.UserKey(f.Largest), begin) < 0 {
		return false
	}
	return true
}
