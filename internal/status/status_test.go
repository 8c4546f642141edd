package status

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfAndIs(t *testing.T) {
	err := NotFoundf("key %q missing", "foo")
	require.Equal(t, NotFound, KindOf(err))
	require.True(t, Is(err, NotFound))
	require.False(t, Is(err, Corruption))
}

func TestKindOfNilIsOK(t *testing.T) {
	require.Equal(t, OK, KindOf(nil))
}

func TestKindOfPlainErrorIsIOError(t *testing.T) {
	require.Equal(t, IOError, KindOf(errors.New("boom")))
}

func TestWrapIOPreservesNilAndCause(t *testing.T) {
	require.NoError(t, WrapIO(nil, "context"))

	cause := errors.New("disk full")
	wrapped := WrapIO(cause, "writing file")
	require.Equal(t, IOError, KindOf(wrapped))
	require.ErrorIs(t, wrapped, cause)
}

func TestErrorMessageIncludesKindAndCause(t *testing.T) {
	cause := errors.New("eof")
	err := IOErrorf(cause, "reading %s", "block")
	require.Contains(t, err.Error(), "IO error")
	require.Contains(t, err.Error(), "reading block")
	require.Contains(t, err.Error(), "eof")
}
