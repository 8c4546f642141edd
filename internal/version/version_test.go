package version

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lsmkv/lsmkv/internal/ikey"
)

func testComparator() *ikey.InternalComparator {
	return ikey.NewInternalComparator(ikey.BytewiseComparator{})
}

func TestNewFileMetadataAllowedSeeksFloor(t *testing.T) {
	small := NewFileMetadata(1, 1<<10, []byte("a"), []byte("b"))
	require.Equal(t, int32(100), small.AllowedSeeks, "small files still get the 100-seek floor")

	big := NewFileMetadata(2, 100<<20, []byte("a"), []byte("b"))
	require.Greater(t, big.AllowedSeeks, int32(100))
}

func TestFileMetadataOverlaps(t *testing.T) {
	ucmp := ikey.BytewiseComparator{}
	f := NewFileMetadata(1, 100,
		ikey.Make([]byte("c"), 1, ikey.TypeValue),
		ikey.Make([]byte("m"), 1, ikey.TypeValue))

	require.True(t, f.Overlaps(ucmp, []byte("a"), []byte("d")))
	require.True(t, f.Overlaps(ucmp, nil, nil))
	require.False(t, f.Overlaps(ucmp, []byte("n"), []byte("z")))
	require.False(t, f.Overlaps(ucmp, []byte("a"), []byte("b")))
}

func TestDefaultConfigMatchesLevelDBDefaults(t *testing.T) {
	c := DefaultConfig()
	require.Equal(t, 7, c.Levels)
	require.Equal(t, 4, c.L0CompactionTrigger)
	require.Equal(t, 8, c.L0SlowdownWrites)
	require.Equal(t, 12, c.L0StopWrites)
}

func newTestVersionSet(t *testing.T) *VersionSet {
	t.Helper()
	return New(t.TempDir(), testComparator(), DefaultConfig(), zap.NewNop().Sugar())
}

func TestLogAndApplyOnFreshDatabaseCreatesManifest(t *testing.T) {
	vs := newTestVersionSet(t)
	defer vs.Close()

	edit := &Edit{ComparatorName: vs.Comparator().User.Name(), HasLogNumber: true, LogNumber: 1}
	require.NoError(t, vs.LogAndApply(edit))

	require.Equal(t, uint64(1), vs.LogNumber())
	require.NotZero(t, vs.NewFileNumber())
}

func TestLogAndApplyAddsFileToCurrentVersion(t *testing.T) {
	vs := newTestVersionSet(t)
	defer vs.Close()

	require.NoError(t, vs.LogAndApply(&Edit{ComparatorName: vs.Comparator().User.Name(), HasLogNumber: true, LogNumber: 1}))

	meta := NewFileMetadata(vs.NewFileNumber(), 1024,
		ikey.Make([]byte("a"), 1, ikey.TypeValue),
		ikey.Make([]byte("z"), 1, ikey.TypeValue))
	edit := &Edit{}
	edit.AddFile(0, meta)
	require.NoError(t, vs.LogAndApply(edit))

	files := vs.Current().Files(0)
	require.Len(t, files, 1)
	require.Equal(t, meta.Number, files[0].Number)
}

func TestRecoverRestoresFilesAfterReopen(t *testing.T) {
	dir := t.TempDir()
	cmp := testComparator()

	vs := New(dir, cmp, DefaultConfig(), zap.NewNop().Sugar())
	require.NoError(t, vs.LogAndApply(&Edit{ComparatorName: cmp.User.Name(), HasLogNumber: true, LogNumber: 1}))
	meta := NewFileMetadata(vs.NewFileNumber(), 2048,
		ikey.Make([]byte("a"), 1, ikey.TypeValue),
		ikey.Make([]byte("m"), 1, ikey.TypeValue))
	edit := &Edit{}
	edit.AddFile(0, meta)
	require.NoError(t, vs.LogAndApply(edit))
	require.NoError(t, vs.Close())

	vs2 := New(dir, cmp, DefaultConfig(), zap.NewNop().Sugar())
	require.NoError(t, vs2.Recover())
	defer vs2.Close()

	files := vs2.Current().Files(0)
	require.Len(t, files, 1)
	require.Equal(t, meta.Number, files[0].Number)
	require.Equal(t, meta.Size, files[0].Size)
}

func TestRefUnrefVersionKeepsOldVersionAliveUntilUnref(t *testing.T) {
	vs := newTestVersionSet(t)
	defer vs.Close()

	require.NoError(t, vs.LogAndApply(&Edit{ComparatorName: vs.Comparator().User.Name(), HasLogNumber: true, LogNumber: 1}))
	v1 := vs.Current()
	vs.RefVersion(v1)

	meta := NewFileMetadata(vs.NewFileNumber(), 100,
		ikey.Make([]byte("a"), 1, ikey.TypeValue),
		ikey.Make([]byte("b"), 1, ikey.TypeValue))
	edit := &Edit{}
	edit.AddFile(0, meta)
	require.NoError(t, vs.LogAndApply(edit))

	require.NotSame(t, v1, vs.Current())
	require.Empty(t, v1.Files(0), "the old version snapshot must not see files added by a later edit")

	vs.UnrefVersion(v1)
}

func TestNeedsCompactionFalseOnEmptyDatabase(t *testing.T) {
	vs := newTestVersionSet(t)
	defer vs.Close()
	require.NoError(t, vs.LogAndApply(&Edit{ComparatorName: vs.Comparator().User.Name(), HasLogNumber: true, LogNumber: 1}))
	require.False(t, vs.NeedsCompaction())
}
