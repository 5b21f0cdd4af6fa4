package pendingops

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scribelake/scribe/pkg/types"
)

func TestBuffer_PushPopOrder(t *testing.T) {
	b := New()
	require.NoError(t, b.PushBack(types.SequencedOp{SequenceNumber: 1}))
	require.NoError(t, b.PushBack(types.SequencedOp{SequenceNumber: 2}))
	require.NoError(t, b.PushBack(types.SequencedOp{SequenceNumber: 3}))

	require.Equal(t, 3, b.Len())

	front, ok := b.PeekFront()
	require.True(t, ok)
	require.Equal(t, types.SequenceNumber(1), front.SequenceNumber)

	back, ok := b.PeekBack()
	require.True(t, ok)
	require.Equal(t, types.SequenceNumber(3), back.SequenceNumber)

	op, ok := b.PopFront()
	require.True(t, ok)
	require.Equal(t, types.SequenceNumber(1), op.SequenceNumber)
	require.Equal(t, 2, b.Len())
}

func TestBuffer_PushBack_RejectsNonIncreasing(t *testing.T) {
	b := New()
	require.NoError(t, b.PushBack(types.SequencedOp{SequenceNumber: 5}))
	require.Error(t, b.PushBack(types.SequencedOp{SequenceNumber: 5}))
	require.Error(t, b.PushBack(types.SequencedOp{SequenceNumber: 4}))
}

func TestBuffer_ReplaceRollsBackToSnapshot(t *testing.T) {
	b := New()
	require.NoError(t, b.PushBack(types.SequencedOp{SequenceNumber: 1}))
	require.NoError(t, b.PushBack(types.SequencedOp{SequenceNumber: 2}))

	snap := b.Snapshot()

	require.NoError(t, b.PushBack(types.SequencedOp{SequenceNumber: 3}))
	require.Equal(t, 3, b.Len())

	b.Replace(snap)
	require.Equal(t, 2, b.Len())
	back, ok := b.PeekBack()
	require.True(t, ok)
	require.Equal(t, types.SequenceNumber(2), back.SequenceNumber)
}

func TestBuffer_ToArray_EmptyWhenDrained(t *testing.T) {
	b := New()
	require.NoError(t, b.PushBack(types.SequencedOp{SequenceNumber: 1}))
	_, ok := b.PopFront()
	require.True(t, ok)
	require.Empty(t, b.ToArray())
	_, ok = b.PeekFront()
	require.False(t, ok)
}
