package compaction

import (
	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/version"
)

// Pick chooses the next compaction to run against vs's current version
// (spec §4.H): a size-triggered compaction if the current version's
// worst score is >= 1, else a seek-triggered compaction if a file has
// been flagged by read statistics, else nil (nothing to do).
func Pick(vs *version.VersionSet) *Compaction {
	cur := vs.Current()
	cmp := vs.Comparator()

	level, score := cur.CompactionScore()
	var c *Compaction
	switch {
	case level >= 0 && score >= 1:
		c = &Compaction{Level: level, inputVersion: cur, vs: vs}
		files := cur.Files(level)
		pointer := vs.CompactPointer(level)
		var picked *version.FileMetadata
		for _, f := range files {
			if pointer == nil || cmp.Compare(f.Largest, pointer) > 0 {
				picked = f
				break
			}
		}
		if picked == nil && len(files) > 0 {
			picked = files[0]
		}
		if picked == nil {
			return nil
		}
		c.Inputs[0] = []*version.FileMetadata{picked}

	default:
		f, fl := cur.FileToCompact()
		if f == nil {
			return nil
		}
		c = &Compaction{Level: fl, inputVersion: cur, vs: vs}
		c.Inputs[0] = []*version.FileMetadata{f}
	}

	if c.Level == 0 {
		begin, end := keyRange(cmp, c.Inputs[0])
		c.Inputs[0] = cur.GetOverlappingInputs(0, begin, end)
	}
	setupOtherInputs(vs, c)
	return c
}

// Manual builds a Compaction that forces every level-L file overlapping
// [begin,end] (a nil bound means unbounded on that side) into level
// L+1, for the CompactRange operation (spec's supplemented
// "CompactRange(begin, end)" feature). Returns nil if no level-L file
// overlaps the range.
func Manual(vs *version.VersionSet, level int, begin, end []byte) *Compaction {
	cur := vs.Current()
	files := cur.GetOverlappingInputs(level, begin, end)
	if len(files) == 0 {
		return nil
	}
	c := &Compaction{Level: level, inputVersion: cur, vs: vs}
	c.Inputs[0] = files
	setupOtherInputs(vs, c)
	return c
}

// keyRange returns the user-key range spanned by files.
func keyRange(cmp *ikey.InternalComparator, files []*version.FileMetadata) (begin, end []byte) {
	if len(files) == 0 {
		return nil, nil
	}
	begin, end = files[0].Smallest, files[0].Largest
	for _, f := range files[1:] {
		if cmp.Compare(f.Smallest, begin) < 0 {
			begin = f.Smallest
		}
		if cmp.Compare(f.Largest, end) > 0 {
			end = f.Largest
		}
	}
	return ikey.UserKey(begin), ikey.UserKey(end)
}

// setupOtherInputs fills in the level+1 input set, opportunistically
// expands the level input set when it's free to do so, and records the
// level+2 (grandparent) files used to bound output size (spec §4.H).
func setupOtherInputs(vs *version.VersionSet, c *Compaction) {
	cur := vs.Current()
	cmp := vs.Comparator()

	begin, end := keyRange(cmp, c.Inputs[0])
	c.Inputs[1] = cur.GetOverlappingInputs(c.Level+1, begin, end)

	unionBegin, unionEnd := keyRange(cmp, append(append([]*version.FileMetadata(nil), c.Inputs[0]...), c.Inputs[1]...))

	if len(c.Inputs[1]) > 0 {
		expanded0 := cur.GetOverlappingInputs(c.Level, unionBegin, unionEnd)
		if len(expanded0) > len(c.Inputs[0]) {
			expandedBegin, expandedEnd := keyRange(cmp, expanded0)
			expanded1 := cur.GetOverlappingInputs(c.Level+1, expandedBegin, expandedEnd)
			if len(expanded1) == len(c.Inputs[1]) && totalSize(expanded0)+totalSize(expanded1) < vs.Config().ExpandedCompactionLimit {
				c.Inputs[0] = expanded0
				c.Inputs[1] = expanded1
				unionBegin, unionEnd = expandedBegin, expandedEnd
			}
		}
	}

	if c.Level+2 < cur.NumLevels() {
		c.Grandparents = cur.GetOverlappingInputs(c.Level+2, unionBegin, unionEnd)
	}

	largest := c.Inputs[0][0].Largest
	for _, f := range c.Inputs[0][1:] {
		if cmp.Compare(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	c.newCompactPointer = append([]byte(nil), largest...)
	c.baseLevelCursor = make([]int, cur.NumLevels())
}

func totalSize(files []*version.FileMetadata) uint64 {
	var n uint64
	for _, f := range files {
		n += f.Size
	}
	return n
}
