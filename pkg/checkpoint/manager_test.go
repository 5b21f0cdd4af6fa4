package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scribelake/scribe/internal/config"
	"github.com/scribelake/scribe/pkg/types"
)

type fakeRepo struct {
	mu      sync.Mutex
	writes  []types.ScribeCheckpoint
	failNext bool
}

func (f *fakeRepo) UpdateCheckpoint(_ context.Context, _ types.DocumentID, cp types.ScribeCheckpoint, _ []types.SequencedOp, _ UpdateOpts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("boom")
	}
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeRepo) DeleteCheckpoint(_ context.Context, _ types.DocumentID, _ types.SequenceNumber, _ bool) error {
	return nil
}

type fakeAcker struct {
	mu      sync.Mutex
	offsets []types.Offset
}

func (f *fakeAcker) Checkpoint(_ context.Context, offset types.Offset, _ int32, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsets = append(f.offsets, offset)
	return nil
}

type fakeObserver struct {
	mu      sync.Mutex
	results []Result
	done    chan struct{}
}

func newFakeObserver(n int) *fakeObserver {
	return &fakeObserver{done: make(chan struct{}, n)}
}

func (f *fakeObserver) OnCheckpointSettled(r Result) {
	f.mu.Lock()
	f.results = append(f.results, r)
	f.mu.Unlock()
	f.done <- struct{}{}
}

func testConfig() config.CheckpointConfig {
	return config.CheckpointConfig{
		Heuristics: config.CheckpointHeuristics{Enable: true, MaxMessages: 10, MaxTime: time.Minute, IdleTime: 50 * time.Millisecond},
	}
}

func TestManager_Write_SucceedsAndAcks(t *testing.T) {
	repo := &fakeRepo{}
	ack := &fakeAcker{}
	obs := newFakeObserver(1)
	m := New("doc1", repo, ack, obs, testConfig(), nil)

	m.UpdateBookkeeping(10, 0)
	m.Write(context.Background(), WriteRequest{Checkpoint: types.ScribeCheckpoint{SequenceNumber: 2}, Reason: types.ReasonEveryMessage})

	<-obs.done
	require.Len(t, repo.writes, 1)
	require.Equal(t, []types.Offset{10}, ack.offsets)
}

func TestManager_Write_FailureSkipsAck(t *testing.T) {
	repo := &fakeRepo{failNext: true}
	ack := &fakeAcker{}
	obs := newFakeObserver(1)
	m := New("doc1", repo, ack, obs, testConfig(), nil)

	m.UpdateBookkeeping(10, 0)
	m.Write(context.Background(), WriteRequest{Reason: types.ReasonEveryMessage})

	<-obs.done
	require.Empty(t, ack.offsets)
}

func TestManager_MarkAsCorrupt_NeverAcks(t *testing.T) {
	repo := &fakeRepo{}
	ack := &fakeAcker{}
	obs := newFakeObserver(1)
	m := New("doc1", repo, ack, obs, testConfig(), nil)

	m.UpdateBookkeeping(99, 0)
	m.Write(context.Background(), WriteRequest{Reason: types.ReasonMarkAsCorrupt, IsCorrupt: true})

	<-obs.done
	require.Empty(t, ack.offsets)
	require.Len(t, repo.writes, 1)
}

func TestManager_CoalescesConcurrentWrites(t *testing.T) {
	repo := &fakeRepo{}
	ack := &fakeAcker{}
	obs := newFakeObserver(2)
	m := New("doc1", repo, ack, obs, testConfig(), nil)

	m.UpdateBookkeeping(1, 0)
	m.Write(context.Background(), WriteRequest{Checkpoint: types.ScribeCheckpoint{SequenceNumber: 1}, Reason: types.ReasonEveryMessage})
	m.UpdateBookkeeping(2, 0)
	m.Write(context.Background(), WriteRequest{Checkpoint: types.ScribeCheckpoint{SequenceNumber: 2}, Reason: types.ReasonEveryMessage})

	select {
	case <-obs.done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first checkpoint to settle")
	}
	select {
	case <-obs.done:
	case <-time.After(time.Second):
	}
	require.LessOrEqual(t, len(repo.writes), 2)
	require.GreaterOrEqual(t, len(repo.writes), 1)
}
