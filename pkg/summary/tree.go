package summary

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/scribelake/scribe/pkg/types"
)

// tree is the assembled snapshot: uploaded client content plus an
// appended logtail plus the (possibly scrubbed) protocol tree — a small
// struct describing an atomic change, applied and persisted as one unit.
type tree struct {
	AppTree      []byte              `json:"appTree"`
	Logtail      []types.SequencedOp `json:"logtail"`
	ProtocolTree types.ProtocolState `json:"protocolTree"`
	Parents      []types.SummaryHandle `json:"parents"`
}

// marshal serializes and zstd-compresses t, an assemble-from-parts,
// write-once step, before handing the blob to the content store.
func marshal(t tree) ([]byte, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal summary tree: %w", err)
	}

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("init summary compressor: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress summary tree: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize summary tree compression: %w", err)
	}
	return buf.Bytes(), nil
}

// logtailFrom truncates pendingOps to the ordered ops strictly after
// protocolHead, appended to a summary so readers can catch up without
// re-fetching the op stream.
func logtailFrom(pendingOps []types.SequencedOp, protocolHead types.SequenceNumber) []types.SequencedOp {
	out := make([]types.SequencedOp, 0, len(pendingOps))
	for _, op := range pendingOps {
		if op.SequenceNumber > protocolHead {
			out = append(out, op)
		}
	}
	return out
}
