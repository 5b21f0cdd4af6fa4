package summary

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scribelake/scribe/pkg/types"
)

type fakeStore struct {
	nextHandle types.SummaryHandle
	failErr    error
}

func (f *fakeStore) UploadTree(_ context.Context, _ types.DocumentID, _ []byte) (types.SummaryHandle, error) {
	if f.failErr != nil {
		return "", f.failErr
	}
	return f.nextHandle, nil
}

func TestWriteClientSummary_Success(t *testing.T) {
	store := &fakeStore{nextHandle: "H1"}
	w := New(store, false, false, nil)

	op := types.SequencedOp{
		SequenceNumber:          11,
		ReferenceSequenceNumber: 10,
		Type:                    types.OpTypeSummarize,
		Contents:                types.DecodedContent([]byte("content")),
	}

	ck := types.ScribeCheckpoint{ProtocolHead: 0}
	res, err := w.WriteClientSummary(context.Background(), op, "H0", ck, nil, false)
	require.NoError(t, err)
	require.True(t, res.Status)
	require.Equal(t, types.SummaryHandle("H1"), res.Ack.Handle)
	require.Equal(t, types.SequenceNumber(11), res.Ack.SummaryProposal.SummarySequenceNumber)
}

func TestWriteClientSummary_UploadFailureNacks(t *testing.T) {
	store := &fakeStore{failErr: errors.New("storage down")}
	w := New(store, false, false, nil)

	op := types.SequencedOp{SequenceNumber: 11, Contents: types.DecodedContent([]byte("x"))}
	res, err := w.WriteClientSummary(context.Background(), op, "", types.ScribeCheckpoint{}, nil, false)
	require.NoError(t, err)
	require.False(t, res.Status)
	require.NotNil(t, res.Nack)
}

func TestWriteClientSummary_RejectsWhenExternal(t *testing.T) {
	w := New(&fakeStore{}, true, false, nil)
	_, err := w.WriteClientSummary(context.Background(), types.SequencedOp{}, "", types.ScribeCheckpoint{}, nil, false)
	require.Error(t, err)
}

func TestWriteServiceSummary_Success(t *testing.T) {
	store := &fakeStore{nextHandle: "S1"}
	w := New(store, false, false, nil)

	handle, ok, err := w.WriteServiceSummary(context.Background(), types.SequencedOp{}, 5, types.ScribeCheckpoint{}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.SummaryHandle("S1"), handle)
}
