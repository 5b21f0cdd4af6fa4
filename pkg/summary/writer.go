// Package summary implements the Summary Writer: it
// assembles client and service summaries and hands them to a content
// store, returning an Ack/Nack for client summaries and a bare handle (or
// none) for service summaries.
package summary

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scribelake/scribe/pkg/types"
)

// ContentStore is the document repository's blob-upload surface used to
// persist an assembled summary tree.
type ContentStore interface {
	UploadTree(ctx context.Context, docID types.DocumentID, blob []byte) (types.SummaryHandle, error)
}

// Writer assembles and uploads summaries. When IsExternal is true, a
// separate service is authoritative for uploading client summaries and
// this writer must not be called for WriteClientSummary — the lambda
// only advances protocolHead upon seeing a SummaryAck op in the stream.
type Writer struct {
	store      ContentStore
	IsExternal bool
	scrub      bool
	log        *slog.Logger
}

// New constructs a Writer. scrub controls whether the embedded protocol
// tree has member identity replaced with placeholders, per the
// scrubUserDataInSummaries config flag
func New(store ContentStore, isExternal, scrub bool, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{store: store, IsExternal: isExternal, scrub: scrub, log: log}
}

// ClientSummaryResult is the {status, message} pair
type ClientSummaryResult struct {
	Status bool
	Ack    *types.SummaryAckContent
	Nack   *types.SummaryNackContent
}

// WriteClientSummary assembles the uploaded client content plus an
// appended logtail plus the protocol tree into one versioned snapshot,
// referencing lastClientSummaryHead (and any validParentSummaries) as
// parent.
func (w *Writer) WriteClientSummary(
	ctx context.Context,
	op types.SequencedOp,
	lastClientSummaryHead types.SummaryHandle,
	checkpoint types.ScribeCheckpoint,
	pendingOps []types.SequencedOp,
	isEphemeral bool,
) (ClientSummaryResult, error) {
	if w.IsExternal {
		return ClientSummaryResult{}, fmt.Errorf("summary: WriteClientSummary called with an external summary writer configured")
	}

	var appTree []byte
	if err := op.Contents.Decode(&appTree); err != nil {
		return ClientSummaryResult{Status: false, Nack: &types.SummaryNackContent{Message: fmt.Sprintf("invalid client summary contents: %v", err)}}, nil
	}

	protocolTree := checkpoint.ProtocolState
	if w.scrub {
		protocolTree = scrubProtocolState(protocolTree)
	}

	parents := append([]types.SummaryHandle(nil), checkpoint.ValidParentSummaries...)
	if lastClientSummaryHead != "" {
		parents = append([]types.SummaryHandle{lastClientSummaryHead}, parents...)
	}

	t := tree{
		AppTree:      appTree,
		Logtail:      logtailFrom(pendingOps, checkpoint.ProtocolHead),
		ProtocolTree: protocolTree,
		Parents:      parents,
	}

	blob, err := marshal(t)
	if err != nil {
		return ClientSummaryResult{}, err
	}

	handle, err := w.store.UploadTree(ctx, op.ClientID, blob)
	if err != nil {
		w.log.Warn("client summary upload failed", "client", op.ClientID, "seq", op.SequenceNumber, "error", err)
		return ClientSummaryResult{Status: false, Nack: &types.SummaryNackContent{Message: err.Error(), Retryable: true}}, nil
	}

	return ClientSummaryResult{
		Status: true,
		Ack: &types.SummaryAckContent{
			Handle:          handle,
			SummaryProposal: types.SummaryProposal{SummarySequenceNumber: op.SequenceNumber},
		},
	}, nil
}

// WriteServiceSummary produces a server-initiated snapshot whose app tree
// is inherited from the last client summary, with the logtail appended.
// Used when there are no active clients, on a NoClient op.
func (w *Writer) WriteServiceSummary(
	ctx context.Context,
	op types.SequencedOp,
	protocolHead types.SequenceNumber,
	checkpoint types.ScribeCheckpoint,
	pendingOps []types.SequencedOp,
) (types.SummaryHandle, bool, error) {
	protocolTree := checkpoint.ProtocolState
	if w.scrub {
		protocolTree = scrubProtocolState(protocolTree)
	}

	t := tree{
		AppTree:      nil, // inherited from lastClientSummaryHead by the content store's parent chain
		Logtail:      logtailFrom(pendingOps, protocolHead),
		ProtocolTree: protocolTree,
		Parents:      append([]types.SummaryHandle{checkpoint.LastClientSummaryHead}, checkpoint.ValidParentSummaries...),
	}

	blob, err := marshal(t)
	if err != nil {
		return "", false, err
	}

	handle, err := w.store.UploadTree(ctx, "service", blob)
	if err != nil {
		return "", false, fmt.Errorf("service summary upload: %w", err)
	}
	return handle, true, nil
}

func scrubProtocolState(state types.ProtocolState) types.ProtocolState {
	scrubbed := state
	scrubbed.Members = make([]types.MemberEntry, len(state.Members))
	for i, m := range state.Members {
		scrubbed.Members[i] = types.MemberEntry{
			ClientID:       fmt.Sprintf("scrubbed-client-%d", i),
			SequenceNumber: m.SequenceNumber,
		}
	}
	return scrubbed
}
