package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scribelake/scribe/internal/config"
	"github.com/scribelake/scribe/pkg/checkpoint"
	"github.com/scribelake/scribe/pkg/membership"
	"github.com/scribelake/scribe/pkg/types"
)

type fakeClaimer struct {
	released chan struct{}
}

func (f *fakeClaimer) Claim(_ context.Context, docID types.DocumentID) (*membership.Claim, error) {
	return membership.NewClaim(docID, f.released), nil
}

type fakeRepo struct {
	seed    types.ScribeCheckpoint
	pending []types.SequencedOp
	found   bool
}

func (f *fakeRepo) UpdateCheckpoint(context.Context, types.DocumentID, types.ScribeCheckpoint, []types.SequencedOp, checkpoint.UpdateOpts) error {
	return nil
}

func (f *fakeRepo) DeleteCheckpoint(context.Context, types.DocumentID, types.SequenceNumber, bool) error {
	return nil
}

func (f *fakeRepo) UploadTree(context.Context, types.DocumentID, []byte) (types.SummaryHandle, error) {
	return "", nil
}

func (f *fakeRepo) ReadMessages(context.Context, types.DocumentID, types.SequenceNumber, types.SequenceNumber) ([]types.SequencedOp, error) {
	return nil, nil
}

func (f *fakeRepo) FetchCheckpoint(context.Context, types.DocumentID) (types.ScribeCheckpoint, []types.SequencedOp, bool, error) {
	return f.seed, f.pending, f.found, nil
}

type fakeProducer struct{}

func (fakeProducer) Send(context.Context, types.TenantID, types.DocumentID, types.SequencedOp) error {
	return nil
}

func (fakeProducer) Checkpoint(context.Context, types.Offset, int32, bool) error { return nil }

func TestSupervisor_ClaimAndSnapshot(t *testing.T) {
	claimer := &fakeClaimer{released: make(chan struct{})}
	repo := &fakeRepo{seed: types.ScribeCheckpoint{SequenceNumber: 5, ProtocolHead: 5}, found: true}

	sup := newSupervisor(config.Default(), claimer, repo, fakeProducer{}, nil)

	require.NoError(t, sup.ClaimDocument(context.Background(), "tenant1", "doc1"))
	require.Equal(t, []types.DocumentID{"doc1"}, sup.Documents())

	snap, ok := sup.Snapshot("doc1")
	require.True(t, ok)
	require.Equal(t, types.SequenceNumber(5), snap.SequenceNumber)

	_, ok = sup.Snapshot("missing")
	require.False(t, ok)
}

func TestSupervisor_ClaimLossEvicts(t *testing.T) {
	claimer := &fakeClaimer{released: make(chan struct{})}
	repo := &fakeRepo{found: false}

	sup := newSupervisor(config.Default(), claimer, repo, fakeProducer{}, nil)
	require.NoError(t, sup.ClaimDocument(context.Background(), "tenant1", "doc1"))
	require.Len(t, sup.Documents(), 1)

	close(claimer.released)
	require.Eventually(t, func() bool {
		return len(sup.Documents()) == 0
	}, time.Second, time.Millisecond)
}
