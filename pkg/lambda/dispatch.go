package lambda

import (
	"context"
	"fmt"

	"github.com/scribelake/scribe/pkg/dberrors"
	"github.com/scribelake/scribe/pkg/types"
)

// dispatch runs the per-op-type side effects once an op has been pushed
// to the pending buffer and, for every type except Summarize, drained into
// the protocol handler up to its own sequence number.
func (l *Lambda) dispatch(ctx context.Context, op types.SequencedOp) error {
	switch op.Type {
	case types.OpTypeSummarize:
		return l.dispatchSummarize(ctx, op)
	case types.OpTypeNoClient:
		return l.dispatchNoClient(ctx, op)
	case types.OpTypeSummaryAck:
		return l.dispatchSummaryAck(op)
	case types.OpTypeClientJoin:
		l.dispatchClientJoin()
		return nil
	default:
		return nil // already applied to the protocol handler on MSN drain
	}
}

// dispatchSummarize handles a Summarize op. Unlike every other op type,
// this op's own admission into the protocol handler (finalize) is
// deferred until the outcome is known: a Nack reverts the handler and the
// pending buffer to exactly the pre-summary snapshot, which only works if
// this op was never folded in to begin with.
func (l *Lambda) dispatchSummarize(ctx context.Context, op types.SequencedOp) error {
	finalize := func() error {
		if err := l.drainTo(op.SequenceNumber); err != nil {
			l.markCorrupt(ctx)
			return fmt.Errorf("%w: %v", dberrors.ErrProtocolViolation, err)
		}
		return nil
	}

	if op.ServerMetadata != nil && op.ServerMetadata.DeliAcked {
		return finalize()
	}
	if l.summaryWriter.IsExternal && op.ReferenceSequenceNumber < l.protocolHandler.SequenceNumber() {
		return finalize() // client is behind; external writer owns the decision
	}

	snapshotState := l.protocolHandler.GetProtocolState(false)
	snapshotPending := l.pending.Snapshot()
	snapshotCheckpointMsgs := l.pendingCheckpointMsgs.Snapshot()

	if err := l.drainTo(op.ReferenceSequenceNumber); err != nil {
		l.markCorrupt(ctx)
		return fmt.Errorf("%w: advance to reference seq %d: %v", dberrors.ErrProtocolViolation, op.ReferenceSequenceNumber, err)
	}

	if l.protocolHead >= l.protocolHandler.SequenceNumber() {
		return finalize() // nothing new to summarize
	}
	if l.summaryWriter.IsExternal {
		return finalize() // the external service performs the upload itself
	}

	req := l.buildCheckpoint(types.ReasonEveryMessage, l.globalCheckpointOnly)
	res, err := l.summaryWriter.WriteClientSummary(ctx, op, l.lastClientSummaryHead, req.Checkpoint, l.pendingCheckpointMsgs.ToArray(), l.isEphemeral)
	if err != nil {
		l.protocolHandler.Restore(snapshotState)
		l.pending.Replace(snapshotPending)
		l.pendingCheckpointMsgs.Replace(snapshotCheckpointMsgs)
		l.log.Error("client summary write failed", "doc", l.docID, "seq", op.SequenceNumber, "error", err)
		if l.cfg.Checkpoint.IgnoreStorageException {
			return l.sendSystemOp(ctx, types.OpTypeSummaryNack, types.DecodedContent(types.SummaryNackContent{
				Message:   err.Error(),
				Retryable: true,
			}))
		}
		l.markCorrupt(ctx)
		return fmt.Errorf("%w: %v", dberrors.ErrTransientStorageFailure, err)
	}

	if !res.Status {
		l.protocolHandler.Restore(snapshotState)
		l.pending.Replace(snapshotPending)
		l.pendingCheckpointMsgs.Replace(snapshotCheckpointMsgs)
		return l.sendSystemOp(ctx, types.OpTypeSummaryNack, types.DecodedContent(res.Nack))
	}

	if err := finalize(); err != nil {
		return err
	}
	if err := l.sendSystemOp(ctx, types.OpTypeSummaryAck, types.DecodedContent(res.Ack)); err != nil {
		return err
	}
	l.protocolHead = l.protocolHandler.SequenceNumber()
	dsn := types.UpdateDSN{IsClientSummary: true, DurableSequenceNumber: l.protocolHead, ClearCache: false}
	if err := l.sendSystemOp(ctx, types.OpTypeControl, types.DecodedContent(dsn)); err != nil {
		return err
	}

	l.lastSummarySequenceNumber = l.protocolHead
	return nil
}

func (l *Lambda) dispatchNoClient(ctx context.Context, op types.SequencedOp) error {
	seq := l.protocolHandler.SequenceNumber()
	msn := l.protocolHandler.MinimumSequenceNumber()
	if op.ReferenceSequenceNumber != seq || seq != msn || seq != op.SequenceNumber {
		return fmt.Errorf("%w: noClient assertion failed at seq %d (protocol seq=%d msn=%d)", dberrors.ErrProtocolViolation, op.SequenceNumber, seq, msn)
	}

	l.noActiveClients = true
	l.globalCheckpointOnly = true

	if !l.cfg.Summary.GenerateServiceSummary || l.isEphemeral || l.isTransientTenant() {
		return nil
	}

	req := l.buildCheckpoint(types.ReasonNoClients, true)
	handle, ok, err := l.summaryWriter.WriteServiceSummary(ctx, op, l.protocolHead, req.Checkpoint, l.pendingCheckpointMsgs.ToArray())
	if err != nil {
		if l.cfg.Checkpoint.IgnoreStorageException {
			l.log.Warn("service summary write failed, continuing", "doc", l.docID, "error", err)
			return nil
		}
		l.markCorrupt(ctx)
		return fmt.Errorf("%w: %v", dberrors.ErrTransientStorageFailure, err)
	}
	if !ok {
		return nil
	}

	dsn := types.UpdateDSN{IsClientSummary: false, DurableSequenceNumber: seq, ClearCache: l.cfg.Summary.ClearCacheAfterServiceSummary}
	if err := l.sendSystemOp(ctx, types.OpTypeControl, types.DecodedContent(dsn)); err != nil {
		return err
	}

	l.lastSummarySequenceNumber = seq
	l.validParentSummaries = append(l.validParentSummaries, handle)
	if max := l.cfg.Summary.MaxTrackedServiceSummaryVersionsSinceLastClientSummary; max > 0 && len(l.validParentSummaries) > max {
		l.validParentSummaries = append([]types.SummaryHandle(nil), l.validParentSummaries[len(l.validParentSummaries)-max:]...)
	}
	return nil
}

func (l *Lambda) dispatchSummaryAck(op types.SequencedOp) error {
	src := op.Data
	if src.IsZero() {
		src = op.Contents
	}
	var content types.SummaryAckContent
	if err := src.Decode(&content); err != nil {
		return fmt.Errorf("%w: decode summaryAck contents: %v", dberrors.ErrProtocolViolation, err)
	}

	l.lastClientSummaryHead = content.Handle
	l.validParentSummaries = nil

	if l.summaryWriter.IsExternal {
		l.protocolHead = content.SummaryProposal.SummarySequenceNumber
		l.lastSummarySequenceNumber = content.SummaryProposal.SummarySequenceNumber
	}
	return nil
}

func (l *Lambda) dispatchClientJoin() {
	if l.cfg.Checkpoint.LocalCheckpointEnabled {
		l.globalCheckpointOnly = false
	}
}

// sendSystemOp emits a scribe-originated op through the producer.
func (l *Lambda) sendSystemOp(ctx context.Context, opType types.OpType, contents types.Content) error {
	op := types.SequencedOp{
		ClientID: "scribe",
		Type:     opType,
		Contents: contents,
	}
	if err := l.producer.Send(ctx, l.tenantID, l.docID, op); err != nil {
		return fmt.Errorf("send %s: %w", opType, err)
	}
	return nil
}
