package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContent_JSONRoundTrip_Decoded(t *testing.T) {
	c := DecodedContent(UpdateDSN{IsClientSummary: true, DurableSequenceNumber: 11})

	b, err := json.Marshal(c)
	require.NoError(t, err)

	var roundTripped Content
	require.NoError(t, json.Unmarshal(b, &roundTripped))

	var dsn UpdateDSN
	require.NoError(t, roundTripped.Decode(&dsn))
	require.True(t, dsn.IsClientSummary)
	require.Equal(t, SequenceNumber(11), dsn.DurableSequenceNumber)
}

func TestContent_JSONRoundTrip_Encoded(t *testing.T) {
	c := EncodedContent([]byte(`{"handle":"H1"}`))

	b, err := json.Marshal(c)
	require.NoError(t, err)

	var roundTripped Content
	require.NoError(t, json.Unmarshal(b, &roundTripped))

	var ack SummaryAckContent
	require.NoError(t, roundTripped.Decode(&ack))
	require.Equal(t, SummaryHandle("H1"), ack.Handle)
}

func TestContent_JSONRoundTrip_Zero(t *testing.T) {
	var c Content

	b, err := json.Marshal(c)
	require.NoError(t, err)
	require.Equal(t, "null", string(b))

	var roundTripped Content
	require.NoError(t, json.Unmarshal(b, &roundTripped))
	require.True(t, roundTripped.IsZero())
}

func TestContent_JSONRoundTrip_InSequencedOp(t *testing.T) {
	op := SequencedOp{
		SequenceNumber: 5,
		Type:           OpTypeOp,
		Contents:       DecodedContent([]byte("hello")),
	}

	b, err := json.Marshal(op)
	require.NoError(t, err)

	var roundTripped SequencedOp
	require.NoError(t, json.Unmarshal(b, &roundTripped))

	var payload []byte
	require.NoError(t, roundTripped.Contents.Decode(&payload))
	require.Equal(t, []byte("hello"), payload)
}
