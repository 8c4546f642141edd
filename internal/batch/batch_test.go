package batch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkv/lsmkv/internal/ikey"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := New()
	b.Put([]byte("foo"), []byte("bar"))
	b.Put([]byte("baz"), []byte(""))
	b.Delete([]byte("qux"))

	payload := Encode(7, b)
	startSeq, entries, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, uint64(7), startSeq)
	require.Equal(t, []Entry{
		{Type: ikey.TypeValue, Key: []byte("foo"), Value: []byte("bar")},
		{Type: ikey.TypeValue, Key: []byte("baz"), Value: []byte("")},
		{Type: ikey.TypeDeletion, Key: []byte("qux")},
	}, entries)
}

func TestAppendMergesEntriesInOrder(t *testing.T) {
	a := New()
	a.Put([]byte("a"), []byte("1"))
	b := New()
	b.Put([]byte("b"), []byte("2"))

	a.Append(b)
	require.Equal(t, 2, a.Count())
	require.Equal(t, []byte("a"), a.Entries()[0].Key)
	require.Equal(t, []byte("b"), a.Entries()[1].Key)
}

func TestReset(t *testing.T) {
	b := New()
	b.Put([]byte("a"), []byte("1"))
	b.Reset()
	require.Equal(t, 0, b.Count())
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	b := New()
	b.Put([]byte("foo"), []byte("bar"))
	payload := Encode(1, b)

	_, _, err := Decode(payload[:len(payload)-1])
	require.Error(t, err)
}

func TestDecodeRejectsPayloadTooSmall(t *testing.T) {
	_, _, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}
