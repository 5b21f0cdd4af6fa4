// Package repo implements the document repository and op store client:
// checkpoint persistence, content-store blob upload, and pending-message
// replay for gap healing, dialed once and invoked through typed RPCs over
// the JSON codec in pkg/rpctransport.
package repo

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/scribelake/scribe/pkg/checkpoint"
	"github.com/scribelake/scribe/pkg/rpctransport"
	"github.com/scribelake/scribe/pkg/types"
)

const (
	methodUpdateCheckpoint = "/scribe.repo.Repo/UpdateCheckpoint"
	methodDeleteCheckpoint = "/scribe.repo.Repo/DeleteCheckpoint"
	methodFetchCheckpoint  = "/scribe.repo.Repo/FetchCheckpoint"
	methodUploadTree       = "/scribe.repo.Repo/UploadTree"
	methodReadMessages     = "/scribe.repo.Repo/ReadMessages"
)

// Client is a gRPC client for the document repository. It implements
// checkpoint.Repo, summary.ContentStore, and lambda.PendingMessageReader,
// so one dialed Client covers every repo-shaped collaborator a Lambda
// needs.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to the document repository at addr.
func Dial(addr string) (*Client, error) {
	cc, err := rpctransport.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("repo: dial %s: %w", addr, err)
	}
	return &Client{cc: cc}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.cc.Close()
}

type updateCheckpointRequest struct {
	DocID       types.DocumentID    `json:"docId"`
	Checkpoint  types.ScribeCheckpoint `json:"checkpoint"`
	OpsToInsert []types.SequencedOp `json:"opsToInsert"`
	Opts        checkpoint.UpdateOpts `json:"opts"`
}

type updateCheckpointResponse struct{}

// UpdateCheckpoint implements checkpoint.Repo.
func (c *Client) UpdateCheckpoint(ctx context.Context, docID types.DocumentID, ck types.ScribeCheckpoint, opsToInsert []types.SequencedOp, opts checkpoint.UpdateOpts) error {
	req := &updateCheckpointRequest{DocID: docID, Checkpoint: ck, OpsToInsert: opsToInsert, Opts: opts}
	return c.cc.Invoke(ctx, methodUpdateCheckpoint, req, &updateCheckpointResponse{})
}

type deleteCheckpointRequest struct {
	DocID        types.DocumentID     `json:"docId"`
	ProtocolHead types.SequenceNumber `json:"protocolHead"`
	Deferred     bool                 `json:"deferred"`
}

type deleteCheckpointResponse struct{}

// DeleteCheckpoint implements checkpoint.Repo.
func (c *Client) DeleteCheckpoint(ctx context.Context, docID types.DocumentID, protocolHead types.SequenceNumber, deferred bool) error {
	req := &deleteCheckpointRequest{DocID: docID, ProtocolHead: protocolHead, Deferred: deferred}
	return c.cc.Invoke(ctx, methodDeleteCheckpoint, req, &deleteCheckpointResponse{})
}

type fetchCheckpointRequest struct {
	DocID types.DocumentID `json:"docId"`
}

type fetchCheckpointResponse struct {
	Found       bool                   `json:"found"`
	Checkpoint  types.ScribeCheckpoint `json:"checkpoint"`
	PendingOps  []types.SequencedOp    `json:"pendingOps"`
}

// FetchCheckpoint retrieves the most recently persisted checkpoint and its
// trailing pending ops for a document, used by cmd/scribeworker to seed a
// Lambda at claim time. Found is false for a document with no prior
// checkpoint, i.e. a cold start.
func (c *Client) FetchCheckpoint(ctx context.Context, docID types.DocumentID) (types.ScribeCheckpoint, []types.SequencedOp, bool, error) {
	req := &fetchCheckpointRequest{DocID: docID}
	resp := &fetchCheckpointResponse{}
	if err := c.cc.Invoke(ctx, methodFetchCheckpoint, req, resp); err != nil {
		return types.ScribeCheckpoint{}, nil, false, err
	}
	return resp.Checkpoint, resp.PendingOps, resp.Found, nil
}

type uploadTreeRequest struct {
	DocID types.DocumentID `json:"docId"`
	Blob  []byte           `json:"blob"`
}

type uploadTreeResponse struct {
	Handle types.SummaryHandle `json:"handle"`
}

// UploadTree implements summary.ContentStore.
func (c *Client) UploadTree(ctx context.Context, docID types.DocumentID, blob []byte) (types.SummaryHandle, error) {
	req := &uploadTreeRequest{DocID: docID, Blob: blob}
	resp := &uploadTreeResponse{}
	if err := c.cc.Invoke(ctx, methodUploadTree, req, resp); err != nil {
		return "", err
	}
	return resp.Handle, nil
}

type readMessagesRequest struct {
	DocID   types.DocumentID     `json:"docId"`
	FromSeq types.SequenceNumber `json:"fromSeq"`
	ToSeq   types.SequenceNumber `json:"toSeq"`
}

type readMessagesResponse struct {
	Ops []types.SequencedOp `json:"ops"`
}

// ReadMessages implements lambda.PendingMessageReader: it replays the ops
// strictly between fromSeq and toSeq from durable storage, for the
// gap-healing path.
func (c *Client) ReadMessages(ctx context.Context, docID types.DocumentID, fromSeq, toSeq types.SequenceNumber) ([]types.SequencedOp, error) {
	req := &readMessagesRequest{DocID: docID, FromSeq: fromSeq, ToSeq: toSeq}
	resp := &readMessagesResponse{}
	if err := c.cc.Invoke(ctx, methodReadMessages, req, resp); err != nil {
		return nil, err
	}
	return resp.Ops, nil
}
