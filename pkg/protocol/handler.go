// Package protocol implements a pure state machine: it replays ops into
// quorum membership and sequence/MSN state and exposes a serializable
// snapshot. The apply loop follows an applyEntry/handleReady shape, minus
// the consensus round trip — scribe's ops already arrived in order off
// the stream, there is no local voting to do.
package protocol

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"github.com/zhangyunhao116/skipmap"
	"go.etcd.io/etcd/raft/v3/raftpb"

	"github.com/scribelake/scribe/pkg/clock"
	"github.com/scribelake/scribe/pkg/dberrors"
	"github.com/scribelake/scribe/pkg/types"
)

// memberSet is a concurrent, ordered-by-clientID map, so GetProtocolState
// returns members in clientID order. Handler's RWMutex still serializes
// GetProtocolState against ProcessMessage.
type memberSet = skipmap.FuncMap[types.ClientID, types.MemberEntry]

func newMemberSet() *memberSet {
	return skipmap.NewFunc[types.ClientID, types.MemberEntry](func(a, b types.ClientID) bool {
		return strings.Compare(a, b) < 0
	})
}

// Handler is the protocol state machine for one document. It is not safe
// for concurrent ProcessMessage calls (the lambda serializes them), but
// GetProtocolState may be called concurrently with ProcessMessage from a
// metrics sampler, hence the mutex.
type Handler struct {
	mu sync.RWMutex

	members   *memberSet
	proposals []types.Proposal
	values    map[string]types.Content

	seq    *clock.Watermark
	msn    *clock.Watermark
	closed bool

	log *slog.Logger
}

// NewHandler seeds a handler from a persisted protocol state, per the
// Lifecycle paragraph: a lambda instance is seeded with a
// Scribe Checkpoint and resumes from its embedded protocol state.
func NewHandler(seed types.ProtocolState, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	members := newMemberSet()
	for _, m := range seed.Members {
		members.Store(m.ClientID, m)
	}
	values := seed.Values
	if values == nil {
		values = make(map[string]types.Content)
	}
	return &Handler{
		members:   members,
		proposals: append([]types.Proposal(nil), seed.Proposals...),
		values:    values,
		seq:       clock.NewWatermark(seed.SequenceNumber),
		msn:       clock.NewWatermark(seed.MinimumSequenceNumber),
		log:       log,
	}
}

// ProcessMessage updates membership on ClientJoin/ClientLeave, advances
// sequence/MSN counters, and records proposals/values. Any error is fatal
// for the document; the caller is expected to mark the document corrupt
// and stop feeding it ops.
func (h *Handler) ProcessMessage(op types.SequencedOp, local bool) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return dberrors.ErrClosed
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic applying seq %d: %v", dberrors.ErrProtocolViolation, op.SequenceNumber, r)
		}
	}()

	switch op.Type {
	case types.OpTypeClientJoin:
		if err := h.applyJoin(op); err != nil {
			return fmt.Errorf("%w: %v", dberrors.ErrProtocolViolation, err)
		}
	case types.OpTypeClientLeave:
		if err := h.applyLeave(op); err != nil {
			return fmt.Errorf("%w: %v", dberrors.ErrProtocolViolation, err)
		}
	case types.OpTypeOp:
		if err := h.applyProposal(op); err != nil {
			return fmt.Errorf("%w: %v", dberrors.ErrProtocolViolation, err)
		}
	}

	if op.SequenceNumber > h.seq.Val() {
		h.seq.Set(op.SequenceNumber)
	}
	if op.MinimumSequenceNumber > h.msn.Val() {
		h.msn.Set(op.MinimumSequenceNumber)
	}

	h.log.Debug("protocol applied op", "seq", op.SequenceNumber, "msn", op.MinimumSequenceNumber, "type", op.Type, "local", local)
	return nil
}

// applyJoin records a membership add, mirroring a raft AddNode conf
// change: the client id is hashed into a stable node id and the delta is
// round-tripped through the real etcd/raft ConfChange proto encoding so
// membership deltas share a wire shape with cluster conf changes
// elsewhere in the stack.
func (h *Handler) applyJoin(op types.SequencedOp) error {
	cc := raftpb.ConfChange{
		Type:    raftpb.ConfChangeAddNode,
		NodeID:  clientNodeID(op.ClientID),
		Context: []byte(op.ClientID),
	}
	if _, err := cc.Marshal(); err != nil {
		return fmt.Errorf("encode join conf change: %w", err)
	}
	h.members.Store(op.ClientID, types.MemberEntry{
		ClientID:       op.ClientID,
		JoinDetails:    op.Contents,
		SequenceNumber: op.SequenceNumber,
	})
	return nil
}

// applyProposal records a quorum key/value proposal carried in an Op's
// contents. An Op whose contents decode to an empty key is a plain
// document edit rather than a proposal and is left unrecorded.
func (h *Handler) applyProposal(op types.SequencedOp) error {
	if op.Contents.IsZero() {
		return nil
	}
	var content types.ProposeContent
	if err := op.Contents.Decode(&content); err != nil {
		return fmt.Errorf("decode proposal contents: %w", err)
	}
	if content.Key == "" {
		return nil
	}
	value := types.EncodedContent(content.Value)
	h.proposals = append(h.proposals, types.Proposal{
		Key:            content.Key,
		Value:          value,
		SequenceNumber: op.SequenceNumber,
	})
	h.values[content.Key] = value
	return nil
}

func (h *Handler) applyLeave(op types.SequencedOp) error {
	cc := raftpb.ConfChange{
		Type:   raftpb.ConfChangeRemoveNode,
		NodeID: clientNodeID(op.ClientID),
	}
	if _, err := cc.Marshal(); err != nil {
		return fmt.Errorf("encode leave conf change: %w", err)
	}
	h.members.Delete(op.ClientID)
	return nil
}

func clientNodeID(clientID types.ClientID) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(clientID))
	return hasher.Sum64()
}

// SequenceNumber returns the highest sequence number applied so far.
func (h *Handler) SequenceNumber() types.SequenceNumber {
	return h.seq.Val()
}

// MinimumSequenceNumber returns the current MSN watermark.
func (h *Handler) MinimumSequenceNumber() types.SequenceNumber {
	return h.msn.Val()
}

// scrubPlaceholder replaces an identifying clientID with a stable,
// position-derived placeholder so checkpoints that embed member entries
// need not carry user-identifying data.
func scrubPlaceholder(index int) types.ClientID {
	return fmt.Sprintf("scrubbed-client-%d", index)
}

// GetProtocolState returns a serializable snapshot. With scrub=true,
// member entries have identifying fields replaced with stable
// placeholders
func (h *Handler) GetProtocolState(scrub bool) types.ProtocolState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]types.MemberEntry, 0, h.members.Len())
	i := 0
	h.members.Range(func(_ types.ClientID, m types.MemberEntry) bool {
		if scrub {
			m.ClientID = scrubPlaceholder(i)
			m.JoinDetails = types.Content{}
		}
		members = append(members, m)
		i++
		return true
	})

	values := make(map[string]types.Content, len(h.values))
	for k, v := range h.values {
		values[k] = v
	}

	return types.ProtocolState{
		Members:               members,
		Proposals:             append([]types.Proposal(nil), h.proposals...),
		Values:                values,
		MinimumSequenceNumber: h.msn.Val(),
		SequenceNumber:        h.seq.Val(),
	}
}

// Restore replaces the handler's state with a previously captured
// snapshot, used to roll back to the pre-summary state on SummaryNack.
func (h *Handler) Restore(state types.ProtocolState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := newMemberSet()
	for _, m := range state.Members {
		members.Store(m.ClientID, m)
	}
	h.members = members
	h.proposals = append([]types.Proposal(nil), state.Proposals...)
	values := state.Values
	if values == nil {
		values = make(map[string]types.Content)
	}
	h.values = values
	h.seq.Set(state.SequenceNumber)
	h.msn.Set(state.MinimumSequenceNumber)
}

// Close marks the handler closed. Terminal: a new Handler must be
// constructed to resume, per the Lifecycle paragraph
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}
