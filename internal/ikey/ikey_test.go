package ikey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytewiseComparator(t *testing.T) {
	cmp := BytewiseComparator{}
	require.Less(t, cmp.Compare([]byte("a"), []byte("b")), 0)
	require.Greater(t, cmp.Compare([]byte("b"), []byte("a")), 0)
	require.Equal(t, 0, cmp.Compare([]byte("a"), []byte("a")))
	require.Less(t, cmp.Compare([]byte("a"), []byte("ab")), 0)
}

func TestInternalComparatorOrdersByUserKeyThenSequenceDescending(t *testing.T) {
	icmp := NewInternalComparator(BytewiseComparator{})

	olderKey := Make([]byte("foo"), 1, TypeValue)
	newerKey := Make([]byte("foo"), 2, TypeValue)

	require.Less(t, icmp.Compare(newerKey, olderKey), 0, "newer sequence for the same user key sorts first")
	require.Greater(t, icmp.Compare(olderKey, newerKey), 0)

	require.Less(t, icmp.Compare(Make([]byte("bar"), 5, TypeValue), Make([]byte("foo"), 1, TypeValue)), 0)
}

func TestUserKeyAndTrailerRoundTrip(t *testing.T) {
	ik := Make([]byte("hello"), 42, TypeDeletion)
	require.Equal(t, []byte("hello"), UserKey(ik))
	require.Equal(t, uint64(42), Sequence(ik))
	require.Equal(t, TypeDeletion, Type(ik))
}

func TestLookupKeySortsAtOrBeforeEveryRealEntryAtTheSameSequence(t *testing.T) {
	icmp := NewInternalComparator(BytewiseComparator{})

	lookup := LookupKey([]byte("foo"), 10)
	putAtSameSeq := Make([]byte("foo"), 10, TypeValue)
	deleteAtSameSeq := Make([]byte("foo"), 10, TypeDeletion)

	require.Equal(t, 0, icmp.Compare(lookup, putAtSameSeq),
		"a lookup at sequence 10 must land on a Put written at sequence 10")
	require.Less(t, icmp.Compare(lookup, deleteAtSameSeq), 0,
		"a lookup at sequence 10 must land on a Deletion written at sequence 10")
}

func TestValid(t *testing.T) {
	require.True(t, Valid(Make([]byte("k"), 1, TypeValue)))
	require.False(t, Valid([]byte("short")))
}
