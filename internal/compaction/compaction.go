// Package compaction implements the compaction planner and runner (spec
// §4.H): picking which files to compact, expanding the input set,
// detecting trivial moves, and merging inputs into new level L+1 output
// files while applying the record-drop rules.
//
// Grounded on original_source/leveldb-master's db/version_set.cc
// (PickCompaction, SetupOtherInputs) and db/db_impl.cc
// (DoCompactionWork, the merge/cut/drop loop) — no repo in the pack
// implements LSM compaction, so this is translated from the C++
// original into the teacher's Go idiom (explicit structs, explicit
// error returns, no exceptions) rather than adapted from an existing Go
// file.
package compaction

import (
	"github.com/lsmkv/lsmkv/internal/version"
)

// Compaction describes one compaction job: inputs at level and
// level+1, the grandparent (level+2) files used to bound output size,
// and the version it was picked against.
type Compaction struct {
	Level   int
	Inputs  [2][]*version.FileMetadata // 0 = level, 1 = level+1
	Grandparents []*version.FileMetadata

	inputVersion *version.Version
	vs           *version.VersionSet

	// newCompactPointer is the largest key of the final level-L inputs,
	// recorded back onto the VersionSet as the per-level compaction
	// pointer so the next size compaction at this level picks up where
	// this one left off (spec §4.H).
	newCompactPointer []byte

	grandparentIndex int
	seenKey          bool
	overlappedBytes  uint64

	// baseLevelCursor[level] is the index of the next file in that
	// level (>= Level+2) still to be checked by IsBaseLevelForKey,
	// exploiting that compaction output is emitted in ascending
	// user-key order.
	baseLevelCursor []int
}

func (c *Compaction) NumInputFiles(which int) int { return len(c.Inputs[which]) }

// IsTrivialMove reports whether this compaction can be satisfied by
// relinking the sole level-L input at L+1 with no I/O (spec §4.H): a
// single L input, no L+1 input, and bounded grandparent overlap.
func (c *Compaction) IsTrivialMove() bool {
	if len(c.Inputs[0]) != 1 || len(c.Inputs[1]) != 0 {
		return false
	}
	var overlap uint64
	for _, f := range c.Grandparents {
		overlap += f.Size
	}
	return overlap <= c.vs.Config().MaxGrandparentOverlap
}

// baseEdit builds the VersionEdit common to every outcome: delete every
// input file at its level, and advance this level's compaction pointer.
func (c *Compaction) baseEdit() *version.Edit {
	e := &version.Edit{}
	for which, level := range [2]int{c.Level, c.Level + 1} {
		for _, f := range c.Inputs[which] {
			e.DeleteFile(level, f.Number)
		}
	}
	if c.newCompactPointer != nil {
		e.SetCompactPointer(c.Level, c.newCompactPointer)
	}
	return e
}

// TrivialMoveEdit builds the single-edit relink for an IsTrivialMove
// compaction: the sole input is deleted at Level and re-added at
// Level+1, with no table I/O.
func (c *Compaction) TrivialMoveEdit() *version.Edit {
	e := c.baseEdit()
	e.AddFile(c.Level+1, c.Inputs[0][0])
	return e
}
