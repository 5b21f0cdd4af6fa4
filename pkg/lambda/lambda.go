// Package lambda implements the Scribe Lambda orchestrator: the
// per-document entry point that consumes boxcar batches and drives the
// protocol handler, pending op buffer, checkpoint manager and summary
// writer. It follows a raft-style Ready-loop shape (handleReady/
// applyEntry): pull a batch, apply each entry in order, then decide what
// durable work follows — minus the consensus round trip, since scribe's
// ops already arrived in order off the stream.
package lambda

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scribelake/scribe/internal/config"
	"github.com/scribelake/scribe/pkg/checkpoint"
	"github.com/scribelake/scribe/pkg/dberrors"
	"github.com/scribelake/scribe/pkg/metrics"
	"github.com/scribelake/scribe/pkg/pendingops"
	"github.com/scribelake/scribe/pkg/protocol"
	"github.com/scribelake/scribe/pkg/summary"
	"github.com/scribelake/scribe/pkg/types"
)

// Producer emits system ops (SummaryAck, SummaryNack, Control/UpdateDSN)
// back onto the stream.
type Producer interface {
	Send(ctx context.Context, tenantID types.TenantID, docID types.DocumentID, op types.SequencedOp) error
}

// PendingMessageReader recovers ops covering a sequence gap from durable
// storage.
type PendingMessageReader interface {
	ReadMessages(ctx context.Context, docID types.DocumentID, fromSeq, toSeq types.SequenceNumber) ([]types.SequencedOp, error)
}

// Lambda is the per-document orchestrator. Exactly one instance exists
// per claimed document, and Handle is never called concurrently with
// itself for the same instance — the upstream driver serializes batches.
type Lambda struct {
	docID    types.DocumentID
	tenantID types.TenantID

	protocolHandler       *protocol.Handler
	pending               *pendingops.Buffer
	pendingCheckpointMsgs *pendingops.Buffer
	ckpt                  *checkpoint.Manager
	heuristics            *checkpoint.Heuristics
	summaryWriter         *summary.Writer
	producer              Producer
	reader                PendingMessageReader
	metrics               *metrics.SessionMetrics

	cfg         config.Config
	isEphemeral bool

	haveLastOffset bool
	lastOffset     types.Offset
	lastPartition  int32

	protocolHead              types.SequenceNumber
	lastSummarySequenceNumber types.SequenceNumber
	lastClientSummaryHead     types.SummaryHandle
	validParentSummaries      []types.SummaryHandle

	noActiveClients      bool
	globalCheckpointOnly bool
	isCorrupt            bool
	closed               bool

	log *slog.Logger
}

// New constructs a Lambda seeded from a persisted checkpoint and its
// trailing pending ops. isResume distinguishes a genuine resume
// (seed.LogOffset is meaningful and gates the duplicate filter) from a
// brand-new document at cold start, where there is no prior offset to
// compare against. The protocol handler resumes from the checkpoint's own
// sequence number and MSN wherever its embedded protocol state records
// lower ones.
func New(
	docID types.DocumentID,
	tenantID types.TenantID,
	seed types.ScribeCheckpoint,
	seedPending []types.SequencedOp,
	isResume bool,
	repo checkpoint.Repo,
	ack checkpoint.Acker,
	store summary.ContentStore,
	isExternalSummaryWriter bool,
	producer Producer,
	reader PendingMessageReader,
	sessionMetrics *metrics.SessionMetrics,
	cfg config.Config,
	isEphemeral bool,
	log *slog.Logger,
) *Lambda {
	if log == nil {
		log = slog.Default()
	}

	protocolSeed := seed.ProtocolState
	if seed.SequenceNumber > protocolSeed.SequenceNumber {
		protocolSeed.SequenceNumber = seed.SequenceNumber
	}
	if seed.MinimumSequenceNumber > protocolSeed.MinimumSequenceNumber {
		protocolSeed.MinimumSequenceNumber = seed.MinimumSequenceNumber
	}

	l := &Lambda{
		docID:                     docID,
		tenantID:                  tenantID,
		protocolHandler:           protocol.NewHandler(protocolSeed, log),
		pending:                   pendingops.New(),
		pendingCheckpointMsgs:     pendingops.New(),
		heuristics:                checkpoint.NewHeuristics(cfg.Checkpoint.Heuristics, nil),
		summaryWriter:             summary.New(store, isExternalSummaryWriter, cfg.Summary.ScrubUserDataInSummaries, log),
		producer:                  producer,
		reader:                    reader,
		metrics:                   sessionMetrics,
		cfg:                       cfg,
		isEphemeral:               isEphemeral,
		haveLastOffset:            isResume,
		lastOffset:                seed.LogOffset,
		protocolHead:              seed.ProtocolHead,
		lastSummarySequenceNumber: seed.LastSummarySequenceNumber,
		lastClientSummaryHead:     seed.LastClientSummaryHead,
		validParentSummaries:      append([]types.SummaryHandle(nil), seed.ValidParentSummaries...),
		isCorrupt:                 seed.IsCorrupt,
		log:                       log,
	}
	l.pending.Replace(seedPending)
	l.ckpt = checkpoint.New(docID, repo, ack, l, cfg.Checkpoint, log)

	if sessionMetrics != nil {
		sessionMetrics.RecordSessionStart()
	}
	return l
}

// Handle processes one boxcar batch, per the algorithm
func (l *Lambda) Handle(ctx context.Context, batch types.Batch) error {
	if l.closed {
		return dberrors.ErrClosed
	}

	// Step 1: duplicate filter.
	if l.haveLastOffset && batch.Offset <= l.lastOffset {
		l.ckpt.UpdateBookkeeping(batch.Offset, batch.Partition)
		if l.metrics != nil {
			l.metrics.RecordOpReprocessed()
		}
		if err := l.ckpt.ReacknowledgeOnly(ctx, batch.Offset, batch.Partition); err != nil {
			return fmt.Errorf("reacknowledge reprocessed offset %d: %w", batch.Offset, err)
		}
		return nil
	}

	// Step 2: advance the watermark.
	l.haveLastOffset = true
	l.lastOffset = batch.Offset
	l.lastPartition = batch.Partition

	// Step 3: apply each op in boxcar order.
	for _, op := range batch.Contents {
		if err := l.applyOne(ctx, op); err != nil {
			return err
		}
	}

	// Step 4: end-of-batch checkpoint decision.
	l.checkpointAfterBatch(ctx, len(batch.Contents))
	return nil
}

// applyOne applies one sequenced op: gap healing, buffering, MSN drain,
// and op-type dispatch.
func (l *Lambda) applyOne(ctx context.Context, op types.SequencedOp) error {
	knownMax := l.protocolHandler.SequenceNumber()
	if back, ok := l.pending.PeekBack(); ok && back.SequenceNumber > knownMax {
		knownMax = back.SequenceNumber
	}
	if op.SequenceNumber <= knownMax {
		return nil // tolerates partial-checkpoint re-delivery
	}

	if op.SequenceNumber != knownMax+1 {
		if err := l.healGap(ctx, knownMax, op.SequenceNumber); err != nil {
			l.markCorrupt(ctx)
			return err
		}
	}

	if err := l.pending.PushBack(op); err != nil {
		l.markCorrupt(ctx)
		return fmt.Errorf("%w: %v", dberrors.ErrProtocolViolation, err)
	}
	if l.cfg.Checkpoint.EnablePendingCheckpointMessages {
		l.recordPendingCheckpointMessage(op)
	}

	// Ops arrive gap-free from here on (healGap already filled anything
	// missing), so everything contiguous from the buffer's front up to
	// this op's own sequence number is ready to apply; this also updates
	// the MSN watermark, since ProcessMessage folds in each op's own
	// minimumSequenceNumber field. Summarize is the one op type whose
	// dispatch decides for itself when to fold the op in, since a Nacked
	// summary must revert the protocol handler to its pre-summary
	// sequence number.
	if op.Type != types.OpTypeSummarize {
		if err := l.drainTo(op.SequenceNumber); err != nil {
			l.markCorrupt(ctx)
			return fmt.Errorf("%w: %v", dberrors.ErrProtocolViolation, err)
		}
	}

	return l.dispatch(ctx, op)
}

// healGap requests the ops strictly between lastKnown and upTo from the
// Pending Message Reader and appends them. Absent a reader, a gap is
// fatal for the document.
func (l *Lambda) healGap(ctx context.Context, lastKnown, upTo types.SequenceNumber) error {
	if l.reader == nil {
		return fmt.Errorf("%w: seq %d follows %d with no pending message reader", dberrors.ErrInvalidSequenceGap, upTo, lastKnown)
	}
	fill, err := l.reader.ReadMessages(ctx, l.docID, lastKnown, upTo)
	if err != nil {
		return fmt.Errorf("%w: read gap ops (%d,%d): %v", dberrors.ErrInvalidSequenceGap, lastKnown, upTo, err)
	}
	for _, op := range fill {
		if op.SequenceNumber <= lastKnown || op.SequenceNumber >= upTo {
			continue
		}
		if err := l.pending.PushBack(op); err != nil {
			return fmt.Errorf("%w: %v", dberrors.ErrInvalidSequenceGap, err)
		}
	}
	return nil
}

// drainTo pops ops off the front of the pending buffer and applies them
// to the protocol handler while their sequence number does not exceed
// upTo.
func (l *Lambda) drainTo(upTo types.SequenceNumber) error {
	for {
		op, ok := l.pending.PeekFront()
		if !ok || op.SequenceNumber > upTo {
			return nil
		}
		if _, ok := l.pending.PopFront(); !ok {
			return nil
		}
		if err := l.protocolHandler.ProcessMessage(op, true); err != nil {
			return err
		}
	}
}

// recordPendingCheckpointMessage appends op to the logtail-staging buffer
// and evicts entries the invariant no longer requires:
// min(pendingCheckpointMessages).sequenceNumber must exceed
// max(protocolHead, lastInserted-maxPendingCheckpointMessagesLength).
func (l *Lambda) recordPendingCheckpointMessage(op types.SequencedOp) {
	_ = l.pendingCheckpointMsgs.PushBack(op)
	floor := l.protocolHead
	if cap := types.SequenceNumber(l.cfg.Checkpoint.MaxPendingCheckpointMessagesLength); cap > 0 && op.SequenceNumber > cap {
		if cutoff := op.SequenceNumber - cap; cutoff > floor {
			floor = cutoff
		}
	}
	for {
		front, ok := l.pendingCheckpointMsgs.PeekFront()
		if !ok || front.SequenceNumber > floor {
			return
		}
		l.pendingCheckpointMsgs.PopFront()
	}
}

func (l *Lambda) isTransientTenant() bool {
	if l.cfg.Tenants.DisableTransientTenantFiltering {
		return false
	}
	for _, t := range l.cfg.Tenants.TransientTenants {
		if t == l.tenantID {
			return true
		}
	}
	return false
}

// markCorrupt forces an immediate global checkpoint with reason
// MarkAsCorrupt, skipping the upstream acknowledgement, per the
// ProtocolViolation policy
func (l *Lambda) markCorrupt(ctx context.Context) {
	l.isCorrupt = true
	req := l.buildCheckpoint(types.ReasonMarkAsCorrupt, true)
	l.ckpt.Write(ctx, req)
}

// checkpointAfterBatch runs the end-of-batch checkpoint decision.
func (l *Lambda) checkpointAfterBatch(ctx context.Context, opCount int) {
	l.heuristics.RecordBatch(opCount)
	l.ckpt.UpdateBookkeeping(l.lastOffset, l.lastPartition)

	if l.noActiveClients {
		req := l.buildCheckpoint(types.ReasonNoClients, true)
		l.ckpt.Write(ctx, req)
		return
	}

	reason, armIdle := l.heuristics.Select(l.isCorrupt, false)
	req := l.buildCheckpoint(reason, l.globalCheckpointOnly)
	if armIdle {
		l.ckpt.ArmIdle(ctx, l.heuristics.IdleDelay(), req)
		return
	}
	l.ckpt.Write(ctx, req)
}

// buildCheckpoint assembles a checkpoint.WriteRequest from current state.
func (l *Lambda) buildCheckpoint(reason types.CheckpointReason, globalOnly bool) checkpoint.WriteRequest {
	scrub := l.cfg.Summary.ScrubUserDataInLocalCheckpoints
	if globalOnly {
		scrub = l.cfg.Summary.ScrubUserDataInGlobalCheckpoints
	}

	state := l.protocolHandler.GetProtocolState(scrub)
	ck := types.ScribeCheckpoint{
		SequenceNumber:            l.protocolHandler.SequenceNumber(),
		MinimumSequenceNumber:     l.protocolHandler.MinimumSequenceNumber(),
		ProtocolState:             state,
		LogOffset:                 l.lastOffset,
		LastSummarySequenceNumber: l.lastSummarySequenceNumber,
		LastClientSummaryHead:     l.lastClientSummaryHead,
		ValidParentSummaries:      append([]types.SummaryHandle(nil), l.validParentSummaries...),
		ProtocolHead:              l.protocolHead,
		IsCorrupt:                 l.isCorrupt,
		CheckpointTimestamp:       time.Now(),
	}

	return checkpoint.WriteRequest{
		Checkpoint:      ck,
		ProtocolHead:    l.protocolHead,
		OpsToInsert:     l.pendingCheckpointMsgs.ToArray(),
		NoActiveClients: l.noActiveClients,
		GlobalOnly:      globalOnly,
		IsCorrupt:       l.isCorrupt,
		Reason:          reason,
	}
}

// OnCheckpointSettled implements checkpoint.Observer: it records the
// outcome metric and, on success, resets the heuristics window.
func (l *Lambda) OnCheckpointSettled(res checkpoint.Result) {
	if l.metrics != nil {
		l.metrics.RecordCheckpoint(res.Request.Reason, res.Err == nil)
	}
	if res.Err != nil {
		l.log.Warn("checkpoint settle failed", "doc", l.docID, "reason", res.Request.Reason, "error", res.Err)
		return
	}
	l.heuristics.ResetAfterCheckpoint()
}

// Snapshot reports the current watermarks for introspection, used by
// internal/admin's per-document debug endpoint.
type Snapshot struct {
	DocID                     types.DocumentID
	SequenceNumber            types.SequenceNumber
	MinimumSequenceNumber     types.SequenceNumber
	ProtocolHead              types.SequenceNumber
	LastSummarySequenceNumber types.SequenceNumber
	IsCorrupt                 bool
	NoActiveClients           bool
}

// Snapshot returns the lambda's current state for debug introspection.
// It never mutates anything and is safe to call from a goroutine other
// than the one driving Handle: it only reads the protocol handler's
// atomic watermark accessors and this struct's own plain fields, a
// best-effort read of state that may be concurrently advancing.
func (l *Lambda) Snapshot() Snapshot {
	return Snapshot{
		DocID:                     l.docID,
		SequenceNumber:            l.protocolHandler.SequenceNumber(),
		MinimumSequenceNumber:     l.protocolHandler.MinimumSequenceNumber(),
		ProtocolHead:              l.protocolHead,
		LastSummarySequenceNumber: l.lastSummarySequenceNumber,
		IsCorrupt:                 l.isCorrupt,
		NoActiveClients:           l.noActiveClients,
	}
}

// Close logs the session-end metric with the given reason, marks the
// instance closed, cancels any armed idle checkpoint, and closes the
// protocol handler. Any in-flight checkpoint write is allowed to settle but
// no new work is scheduled.
func (l *Lambda) Close(reason types.CloseReason) error {
	if l.metrics != nil {
		l.metrics.RecordSessionEnd(reason, l.protocolHandler.SequenceNumber(), l.protocolHead)
	}
	l.closed = true
	l.ckpt.CancelIdle()
	return l.protocolHandler.Close()
}
