package version

import (
	"sort"

	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/status"
)

// levelState is one level's worth of pending changes.
type levelState struct {
	deleted map[uint64]bool
	added   []*FileMetadata
}

// Builder accumulates one or more VersionEdits against a base version,
// then materializes the result into a fresh Version (spec §4.G). Used
// both by VersionSet.LogAndApply (one edit at a time) and by manifest
// recovery (replaying every edit in the log onto an empty base).
type Builder struct {
	cmp    *ikey.InternalComparator
	base   *Version
	levels []levelState
}

func NewBuilder(cmp *ikey.InternalComparator, base *Version) *Builder {
	b := &Builder{cmp: cmp, base: base, levels: make([]levelState, base.NumLevels())}
	for i := range b.levels {
		b.levels[i] = levelState{deleted: make(map[uint64]bool)}
	}
	return b
}

// Apply folds one edit's file additions/deletions into the builder's
// pending state.
func (b *Builder) Apply(e *Edit) {
	for _, df := range e.DeletedFiles {
		b.levels[df.Level].deleted[df.FileNum] = true
	}
	for _, nf := range e.NewFiles {
		// A file can be deleted and re-added across edits replayed from
		// the manifest (e.g. a trivial move deletes at L, adds at L+1);
		// clear any stale deletion mark for this exact number+level.
		delete(b.levels[nf.Level].deleted, nf.Meta.Number)
		b.levels[nf.Level].added = append(b.levels[nf.Level].added, nf.Meta)
	}
}

// SaveTo merges the base version's files with added files in sorted
// order, skipping anything marked deleted, producing a new Version.
// Levels >= 1 must end up with no overlapping files.
func (b *Builder) SaveTo() (*Version, error) {
	out := newVersion(b.cmp, b.base.config)
	for level := 0; level < len(b.levels); level++ {
		ls := b.levels[level]
		added := append([]*FileMetadata(nil), ls.added...)
		sort.Slice(added, func(i, j int) bool {
			if c := b.cmp.Compare(added[i].Smallest, added[j].Smallest); c != 0 {
				return c < 0
			}
			return added[i].Number < added[j].Number
		})

		merged := make([]*FileMetadata, 0, len(b.base.files[level])+len(added))
		bi, ai := 0, 0
		base := b.base.files[level]
		for bi < len(base) || ai < len(added) {
			var next *FileMetadata
			switch {
			case bi >= len(base):
				next = added[ai]
				ai++
			case ai >= len(added):
				next = base[bi]
				bi++
			case b.cmp.Compare(base[bi].Smallest, added[ai].Smallest) <= 0:
				next = base[bi]
				bi++
			default:
				next = added[ai]
				ai++
			}
			if ls.deleted[next.Number] {
				continue
			}
			merged = append(merged, next)
		}

		if level > 0 {
			for i := 1; i < len(merged); i++ {
				if b.cmp.Compare(merged[i-1].Largest, merged[i].Smallest) >= 0 {
					return nil, status.Corruptionf(
						"version: overlapping files at level %d: #%d and #%d",
						level, merged[i-1].Number, merged[i].Number)
				}
			}
		}
		out.files[level] = merged
	}
	return out, nil
}

// Finalize computes each level's compaction-pressure score and records
// the worst one on v (spec §4.G): level 0's score is file-count over
// l0_compaction_trigger; level >= 1's score is bytes over
// LevelByteBudget(level). Highest score wins, ties broken toward the
// lower level.
func Finalize(v *Version) {
	bestLevel := -1
	bestScore := -1.0
	for level := 0; level < v.NumLevels()-1; level++ {
		var score float64
		if level == 0 {
			score = float64(len(v.files[0])) / float64(v.config.L0CompactionTrigger)
		} else {
			var total uint64
			for _, f := range v.files[level] {
				total += f.Size
			}
			score = float64(total) / float64(LevelByteBudget(level))
		}
		if score > bestScore {
			bestScore = score
			bestLevel = level
		}
	}
	v.compactionLevel = bestLevel
	v.compactionScore = bestScore
}
