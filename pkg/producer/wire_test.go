package producer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scribelake/scribe/pkg/types"
)

func TestSendRequest_WireRoundTrip(t *testing.T) {
	req := &sendRequest{
		TenantID: "tenant1",
		DocID:    "doc1",
		Op: types.SequencedOp{
			ClientID: "scribe",
			Type:     types.OpTypeSummaryAck,
			Contents: types.DecodedContent(types.SummaryAckContent{Handle: "H1"}),
		},
	}

	b, err := json.Marshal(req)
	require.NoError(t, err)

	var got sendRequest
	require.NoError(t, json.Unmarshal(b, &got))

	require.Equal(t, types.TenantID("tenant1"), got.TenantID)
	require.Equal(t, types.OpTypeSummaryAck, got.Op.Type)

	var ack types.SummaryAckContent
	require.NoError(t, got.Op.Contents.Decode(&ack))
	require.Equal(t, types.SummaryHandle("H1"), ack.Handle)
}
