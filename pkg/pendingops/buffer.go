// Package pendingops implements the Pending Op Buffer:
// a FIFO of ops with sequence numbers greater than the protocol handler's
// current sequence number, ordered and strictly increasing. It is backed
// by a concurrent skip map keyed by sequence number; every method except
// Len takes the buffer's mutex.
package pendingops

import (
	"fmt"
	"sync"

	"github.com/zhangyunhao116/skipmap"

	"github.com/scribelake/scribe/pkg/dberrors"
	"github.com/scribelake/scribe/pkg/types"
)

type seqMap = skipmap.FuncMap[types.SequenceNumber, types.SequencedOp]

func newSeqMap() *seqMap {
	return skipmap.NewFunc[types.SequenceNumber, types.SequencedOp](func(a, b types.SequenceNumber) bool {
		return a < b
	})
}

// Buffer is the ordered pending-op deque. Zero value is not usable; use
// New.
type Buffer struct {
	mu    sync.Mutex
	ops   *seqMap
	front types.SequenceNumber // 0 means empty
	back  types.SequenceNumber
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{ops: newSeqMap()}
}

// PushBack appends op. Per invariant, op.SequenceNumber
// must be exactly one greater than the current back (or the buffer must
// be empty), enforced by the caller via the gap-detection step in
// pkg/lambda; PushBack itself only rejects non-increasing sequences.
func (b *Buffer) PushBack(op types.SequencedOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.back != 0 && op.SequenceNumber <= b.back {
		return fmt.Errorf("%w: pushed seq %d does not exceed back %d", dberrors.ErrInvalidArgument, op.SequenceNumber, b.back)
	}
	b.ops.Store(op.SequenceNumber, op)
	if b.front == 0 {
		b.front = op.SequenceNumber
	}
	b.back = op.SequenceNumber
	return nil
}

// PopFront removes and returns the lowest-sequence op.
func (b *Buffer) PopFront() (types.SequencedOp, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.front == 0 {
		return types.SequencedOp{}, false
	}
	op, ok := b.ops.Load(b.front)
	if !ok {
		return types.SequencedOp{}, false
	}
	b.ops.Delete(b.front)
	if b.front == b.back {
		b.front, b.back = 0, 0
		return op, true
	}
	b.ops.Range(func(seq types.SequenceNumber, _ types.SequencedOp) bool {
		b.front = seq
		return false
	})
	return op, true
}

// PeekFront returns the lowest-sequence op without removing it.
func (b *Buffer) PeekFront() (types.SequencedOp, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.front == 0 {
		return types.SequencedOp{}, false
	}
	return b.ops.Load(b.front)
}

// PeekBack returns the highest-sequence op without removing it.
func (b *Buffer) PeekBack() (types.SequencedOp, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.back == 0 {
		return types.SequencedOp{}, false
	}
	return b.ops.Load(b.back)
}

// Len reports the number of buffered ops.
func (b *Buffer) Len() int {
	return b.ops.Len()
}

// ToArray returns the buffered ops in ascending sequence order.
func (b *Buffer) ToArray() []types.SequencedOp {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.SequencedOp, 0, b.ops.Len())
	b.ops.Range(func(_ types.SequenceNumber, op types.SequencedOp) bool {
		out = append(out, op)
		return true
	})
	return out
}

// Replace atomically swaps the buffer's contents, used to roll back to a
// pre-summary snapshot on SummaryNack.
func (b *Buffer) Replace(ops []types.SequencedOp) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ops = newSeqMap()
	b.front, b.back = 0, 0
	for _, op := range ops {
		b.ops.Store(op.SequenceNumber, op)
		if b.front == 0 || op.SequenceNumber < b.front {
			b.front = op.SequenceNumber
		}
		if op.SequenceNumber > b.back {
			b.back = op.SequenceNumber
		}
	}
}

// Snapshot returns a deep-enough copy for later Replace, per the
// "snapshot the pre-summary {protocolState, pendingOps} for rollback"
// step
func (b *Buffer) Snapshot() []types.SequencedOp {
	return b.ToArray()
}
