package version

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/lsmkv/lsmkv/internal/dbfile"
	"github.com/lsmkv/lsmkv/internal/status"
	"github.com/lsmkv/lsmkv/internal/wal"
)

// reuseManifestThreshold caps the size (bytes) of an existing manifest
// that recovery will keep appending to rather than replace with a fresh
// snapshot (spec §4.G: "Optionally reuse the manifest if small").
const reuseManifestThreshold = 1 << 20 // 1 MiB

// snapshotEdit describes the full current version as a single Edit,
// used both as the first record of a freshly created manifest and as
// the replacement record when recovery decides not to reuse an
// oversized one.
func (vs *VersionSet) snapshotEdit() *Edit {
	e := &Edit{
		ComparatorName:    vs.cmp.User.Name(),
		HasLogNumber:      true,
		LogNumber:         vs.logNumber,
		HasPrevLogNumber:  true,
		PrevLogNumber:     vs.prevLogNumber,
		HasNextFileNumber: true,
		NextFileNumber:    atomic.LoadUint64(&vs.nextFileNumber),
		HasLastSequence:   true,
		LastSequence:      vs.LastSequence(),
	}
	for level, files := range vs.current.files {
		for _, f := range files {
			e.AddFile(level, f)
		}
	}
	for level, ptr := range vs.compactPointer {
		if ptr != nil {
			e.SetCompactPointer(level, ptr)
		}
	}
	return e
}

// createManifest starts a brand new MANIFEST file: a snapshot of the
// current version followed by edit, then atomically swaps CURRENT to
// point at it.
func (vs *VersionSet) createManifest(edit *Edit) error {
	num := vs.NewFileNumber()
	path := dbfile.DescriptorFileName(vs.dirname, num)
	w, err := wal.Create(path)
	if err != nil {
		return err
	}
	if err := w.AddRecord(vs.snapshotEdit().Encode(), true); err != nil {
		w.Close()
		return err
	}
	if err := w.AddRecord(edit.Encode(), true); err != nil {
		w.Close()
		return err
	}
	if err := dbfile.WriteCurrent(vs.dirname, num); err != nil {
		w.Close()
		return err
	}
	if vs.manifestWriter != nil {
		vs.manifestWriter.Close()
	}
	vs.manifestWriter = w
	vs.manifestFileNumber = num
	return nil
}

// Recover reads CURRENT, replays the named manifest's edits onto an
// empty version via Builder, and installs the result as current (spec
// §4.G). It then either keeps appending to that manifest (if small) or
// snapshots into a fresh one.
func (vs *VersionSet) Recover() error {
	manifestNum, err := dbfile.ReadCurrent(vs.dirname)
	if err != nil {
		return err
	}
	path := dbfile.DescriptorFileName(vs.dirname, manifestNum)
	f, err := os.Open(path)
	if err != nil {
		return status.WrapIO(err, "version: open manifest")
	}
	defer f.Close()

	b := NewBuilder(vs.cmp, newVersion(vs.cmp, vs.config))
	var haveLogNumber, havePrevLogNumber, haveNextFileNumber, haveLastSequence bool
	var logNumber, prevLogNumber, nextFileNumber, lastSequence uint64
	compactPointer := make([][]byte, vs.config.Levels)

	r := wal.NewReader(f, nil)
	for {
		payload, rerr := r.ReadRecord()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
		edit, derr := Decode(payload)
		if derr != nil {
			return derr
		}
		if edit.ComparatorName != "" && edit.ComparatorName != vs.cmp.User.Name() {
			return status.Corruptionf("version: manifest comparator %q != configured comparator %q",
				edit.ComparatorName, vs.cmp.User.Name())
		}
		if edit.HasLogNumber {
			logNumber, haveLogNumber = edit.LogNumber, true
		}
		if edit.HasPrevLogNumber {
			prevLogNumber, havePrevLogNumber = edit.PrevLogNumber, true
		}
		if edit.HasNextFileNumber {
			nextFileNumber, haveNextFileNumber = edit.NextFileNumber, true
		}
		if edit.HasLastSequence {
			lastSequence, haveLastSequence = edit.LastSequence, true
		}
		for _, cp := range edit.CompactPointers {
			compactPointer[cp.Level] = cp.Key
		}
		b.Apply(edit)
	}
	if !haveNextFileNumber || !haveLastSequence || !haveLogNumber {
		return status.Corruptionf("version: manifest missing required fields")
	}

	next, err := b.SaveTo()
	if err != nil {
		return err
	}
	Finalize(next)

	vs.appendVersion(next)
	vs.logNumber = logNumber
	vs.prevLogNumber = prevLogNumber
	atomic.StoreUint64(&vs.nextFileNumber, nextFileNumber)
	vs.SetLastSequence(lastSequence)
	vs.compactPointer = compactPointer
	_ = havePrevLogNumber

	st, serr := f.Stat()
	if serr == nil && st.Size() <= reuseManifestThreshold {
		w, werr := wal.OpenAppend(path)
		if werr == nil {
			vs.manifestWriter = w
			vs.manifestFileNumber = manifestNum
			return nil
		}
		vs.log.Warnw("could not reuse manifest for append, will snapshot on next edit", "error", werr)
	}
	// Either too large or couldn't reopen: leave manifestWriter nil so
	// the next LogAndApply calls createManifest, writing a fresh
	// snapshot and swapping CURRENT.
	return nil
}

func (vs *VersionSet) Close() error {
	if vs.manifestWriter != nil {
		return vs.manifestWriter.Close()
	}
	return nil
}
