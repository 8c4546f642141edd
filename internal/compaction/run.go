package compaction

import (
	"os"

	"github.com/pkg/errors"

	"github.com/lsmkv/lsmkv/internal/dbfile"
	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/iterator"
	"github.com/lsmkv/lsmkv/internal/sstable"
	"github.com/lsmkv/lsmkv/internal/status"
	"github.com/lsmkv/lsmkv/internal/version"
)

// ShouldStopBefore reports whether the output file being built should be
// cut before emitting key: true once the cumulative size of grandparent
// (level+2) files overlapped since the last cut exceeds
// MaxGrandparentOverlap (spec §4.H).
func (c *Compaction) ShouldStopBefore(icmp *ikey.InternalComparator, key []byte) bool {
	for c.grandparentIndex < len(c.Grandparents) &&
		icmp.Compare(key, c.Grandparents[c.grandparentIndex].Largest) > 0 {
		if c.seenKey {
			c.overlappedBytes += c.Grandparents[c.grandparentIndex].Size
		}
		c.grandparentIndex++
	}
	c.seenKey = true
	if c.overlappedBytes > c.vs.Config().MaxGrandparentOverlap {
		c.overlappedBytes = 0
		return true
	}
	return false
}

// IsBaseLevelForKey reports whether no file at any level >= Level+2
// contains userKey, using a monotonic per-level cursor that exploits
// compaction emitting keys in ascending user-key order (spec §4.H).
func (c *Compaction) IsBaseLevelForKey(ucmp ikey.Comparator, userKey []byte) bool {
	for level := c.Level + 2; level < c.inputVersion.NumLevels(); level++ {
		files := c.inputVersion.Files(level)
		for c.baseLevelCursor[level] < len(files) {
			f := files[c.baseLevelCursor[level]]
			if ucmp.Compare(userKey, ikey.UserKey(f.Largest)) <= 0 {
				if ucmp.Compare(userKey, ikey.UserKey(f.Smallest)) >= 0 {
					return false
				}
				break
			}
			c.baseLevelCursor[level]++
		}
	}
	return true
}

// Options carries everything Run needs beyond the Compaction itself.
type Options struct {
	Dirname           string
	Comparator        *ikey.InternalComparator
	TableProvider      version.TableProvider
	NewFileNumber     func() uint64
	TargetFileSize    uint64
	BuilderOptions    sstable.BuilderOptions
	SmallestSnapshot  uint64 // lowest sequence number of any live snapshot

	// Cancelled, if set, is polled between output files (spec §4.I:
	// "the background task exits at the next checkpoint, between
	// compaction output files"). It is checked only while no output file
	// is open. A true return abandons the compaction: Run returns a nil
	// edit and ErrCancelled, so nothing is installed; output files
	// already finished stay on disk, referenced by no version.
	Cancelled func() bool
}

// ErrCancelled is returned by Run when Cancelled reported true at a
// checkpoint. Run returns a nil edit alongside this error; the caller
// should simply not call VersionSet.LogAndApply.
var ErrCancelled = errors.New("compaction: cancelled")

// Run executes the compaction: for a trivial move, just relinks the
// sole input file with no I/O; otherwise merges Inputs[0] and Inputs[1]
// in internal-key order, applies the record-drop rules (spec §7), and
// writes surviving entries to one or more level+1 output files, cutting
// a new file on size or on ShouldStopBefore. Returns the VersionEdit
// that should be applied via VersionSet.LogAndApply.
func Run(c *Compaction, opts Options) (*version.Edit, error) {
	if c.IsTrivialMove() {
		return c.TrivialMoveEdit(), nil
	}

	children := make([]iterator.Iterator, 0, len(c.Inputs[0])+len(c.Inputs[1]))
	var releases []func()
	closeAll := func() {
		for _, release := range releases {
			release()
		}
	}
	for which := 0; which < 2; which++ {
		for _, f := range c.Inputs[which] {
			r, release, err := opts.TableProvider.Get(f)
			if err != nil {
				closeAll()
				return nil, err
			}
			releases = append(releases, release)
			children = append(children, r.NewIterator())
		}
	}
	defer closeAll()

	merged := iterator.NewMerging(opts.Comparator.Compare, children)

	edit := c.baseEdit()

	var (
		builder    *sstable.Builder
		outFile    *os.File
		outNumber  uint64
		outSmallest []byte
		outLargest  []byte
		haveLastUserKey bool
		lastUserKey     []byte
		lastSequenceForKey uint64
	)

	// This deferred cleanup discards an in-progress output file on any early
	// return below, so a failed or cancelled compaction never leaves a
	// half-written *.ldb behind for the next Open to trip over.
	defer func() {
		if builder != nil {
			outFile.Close()
			os.Remove(dbfile.TableFileName(opts.Dirname, outNumber))
		}
	}()

	closeOutput := func() error {
		if builder == nil {
			return nil
		}
		size, err := builder.Finish()
		if err == nil {
			err = outFile.Sync()
		}
		cerr := outFile.Close()
		if err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		if builder.NumEntries() > 0 {
			meta := version.NewFileMetadata(outNumber, size, outSmallest, outLargest)
			edit.AddFile(c.Level+1, meta)
		} else {
			os.Remove(dbfile.TableFileName(opts.Dirname, outNumber))
		}
		builder = nil
		outFile = nil
		return nil
	}

	startOutput := func() error {
		outNumber = opts.NewFileNumber()
		f, err := os.OpenFile(dbfile.TableFileName(opts.Dirname, outNumber), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return status.WrapIO(err, "compaction: create output file")
		}
		outFile = f
		builder = sstable.NewBuilder(f, opts.Comparator, opts.BuilderOptions)
		outSmallest, outLargest = nil, nil
		return nil
	}

	for valid := merged.SeekToFirst(); valid; valid = merged.Next() {
		key := merged.Key()
		if !ikey.Valid(key) {
			continue
		}
		userKey := ikey.UserKey(key)
		seq := ikey.Sequence(key)
		typ := ikey.Type(key)

		drop := false
		if haveLastUserKey && opts.Comparator.User.Compare(lastUserKey, userKey) == 0 {
			if lastSequenceForKey <= opts.SmallestSnapshot {
				drop = true
			}
		} else {
			lastSequenceForKey = ikey.MaxSequence
		}
		lastUserKey = append(lastUserKey[:0], userKey...)
		haveLastUserKey = true

		if !drop {
			if seq <= opts.SmallestSnapshot && typ == ikey.TypeDeletion &&
				c.IsBaseLevelForKey(opts.Comparator.User, userKey) {
				drop = true
			}
		}
		lastSequenceForKey = seq

		if drop {
			continue
		}

		if builder != nil && c.ShouldStopBefore(opts.Comparator, key) {
			if err := closeOutput(); err != nil {
				return nil, err
			}
		}
		if builder == nil {
			// Between output files is the one checkpoint where it's safe to
			// abandon a compaction with nothing left half-written (spec §4.I).
			if opts.Cancelled != nil && opts.Cancelled() {
				return nil, ErrCancelled
			}
			if err := startOutput(); err != nil {
				return nil, err
			}
		}
		if outSmallest == nil {
			outSmallest = append([]byte(nil), key...)
		}
		outLargest = append(outLargest[:0], key...)
		if err := builder.Add(key, merged.Value()); err != nil {
			return nil, err
		}
		if builder.FileSize() >= opts.TargetFileSize {
			if err := closeOutput(); err != nil {
				return nil, err
			}
		}
	}
	if err := merged.Error(); err != nil {
		return nil, err
	}
	if err := closeOutput(); err != nil {
		return nil, err
	}
	return edit, nil
}
