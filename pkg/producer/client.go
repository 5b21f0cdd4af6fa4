// Package producer implements the outbound op producer:
// it emits scribe-originated system ops (SummaryAck, SummaryNack,
// Control/UpdateDSN) back onto the stream and acknowledges upstream
// offsets once a checkpoint settles, over the shared pkg/rpctransport
// JSON codec.
package producer

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/scribelake/scribe/pkg/rpctransport"
	"github.com/scribelake/scribe/pkg/types"
)

const (
	methodSend       = "/scribe.producer.Producer/Send"
	methodCheckpoint = "/scribe.producer.Producer/Checkpoint"
)

// Client is a gRPC client for the outbound producer service. It
// implements lambda.Producer and checkpoint.Acker.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to the producer at addr.
func Dial(addr string) (*Client, error) {
	cc, err := rpctransport.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("producer: dial %s: %w", addr, err)
	}
	return &Client{cc: cc}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.cc.Close()
}

type sendRequest struct {
	TenantID types.TenantID   `json:"tenantId"`
	DocID    types.DocumentID `json:"docId"`
	Op       types.SequencedOp `json:"op"`
}

type sendResponse struct{}

// Send implements lambda.Producer.
func (c *Client) Send(ctx context.Context, tenantID types.TenantID, docID types.DocumentID, op types.SequencedOp) error {
	req := &sendRequest{TenantID: tenantID, DocID: docID, Op: op}
	return c.cc.Invoke(ctx, methodSend, req, &sendResponse{})
}

type checkpointRequest struct {
	Offset           types.Offset `json:"offset"`
	Partition        int32        `json:"partition"`
	RestartOnFailure bool         `json:"restartOnFailure"`
}

type checkpointResponse struct{}

// Checkpoint implements checkpoint.Acker: it acknowledges offset on the
// upstream message bus once a scribe checkpoint covering it has been
// durably written.
func (c *Client) Checkpoint(ctx context.Context, offset types.Offset, partition int32, restartOnFailure bool) error {
	req := &checkpointRequest{Offset: offset, Partition: partition, RestartOnFailure: restartOnFailure}
	return c.cc.Invoke(ctx, methodCheckpoint, req, &checkpointResponse{})
}
