package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scribelake/scribe/pkg/types"
)

func TestHandler_ProcessMessage_AdvancesWatermarks(t *testing.T) {
	h := NewHandler(types.ProtocolState{}, nil)

	require.NoError(t, h.ProcessMessage(types.SequencedOp{SequenceNumber: 1, MinimumSequenceNumber: 0, Type: types.OpTypeOp}, false))
	require.NoError(t, h.ProcessMessage(types.SequencedOp{SequenceNumber: 2, MinimumSequenceNumber: 1, Type: types.OpTypeOp}, false))

	require.Equal(t, types.SequenceNumber(2), h.SequenceNumber())
	require.Equal(t, types.SequenceNumber(1), h.MinimumSequenceNumber())
}

func TestHandler_ClientJoinLeave_UpdatesMembership(t *testing.T) {
	h := NewHandler(types.ProtocolState{}, nil)

	require.NoError(t, h.ProcessMessage(types.SequencedOp{SequenceNumber: 1, ClientID: "clientA", Type: types.OpTypeClientJoin}, false))
	state := h.GetProtocolState(false)
	require.Len(t, state.Members, 1)
	require.Equal(t, types.ClientID("clientA"), state.Members[0].ClientID)

	require.NoError(t, h.ProcessMessage(types.SequencedOp{SequenceNumber: 2, ClientID: "clientA", Type: types.OpTypeClientLeave}, false))
	state = h.GetProtocolState(false)
	require.Empty(t, state.Members)
}

func TestHandler_GetProtocolState_ScrubsMemberIdentity(t *testing.T) {
	h := NewHandler(types.ProtocolState{}, nil)
	require.NoError(t, h.ProcessMessage(types.SequencedOp{SequenceNumber: 1, ClientID: "alice@example.com", Type: types.OpTypeClientJoin}, false))

	scrubbed := h.GetProtocolState(true)
	require.Len(t, scrubbed.Members, 1)
	require.NotEqual(t, "alice@example.com", scrubbed.Members[0].ClientID)

	unscrubbed := h.GetProtocolState(false)
	require.Equal(t, types.ClientID("alice@example.com"), unscrubbed.Members[0].ClientID)
}

func TestHandler_ProcessMessage_RecordsProposalsAndValues(t *testing.T) {
	h := NewHandler(types.ProtocolState{}, nil)

	op := types.SequencedOp{
		SequenceNumber: 1,
		Type:           types.OpTypeOp,
		Contents:       types.DecodedContent(types.ProposeContent{Key: "foo", Value: []byte(`"bar"`)}),
	}
	require.NoError(t, h.ProcessMessage(op, false))

	state := h.GetProtocolState(false)
	require.Len(t, state.Proposals, 1)
	require.Equal(t, "foo", state.Proposals[0].Key)
	require.Equal(t, types.SequenceNumber(1), state.Proposals[0].SequenceNumber)

	var value string
	require.NoError(t, state.Values["foo"].Decode(&value))
	require.Equal(t, "bar", value)

	var proposalValue string
	require.NoError(t, state.Proposals[0].Value.Decode(&proposalValue))
	require.Equal(t, "bar", proposalValue)
}

func TestHandler_ProcessMessage_PlainOpWithoutKeyRecordsNothing(t *testing.T) {
	h := NewHandler(types.ProtocolState{}, nil)

	op := types.SequencedOp{
		SequenceNumber: 1,
		Type:           types.OpTypeOp,
		Contents:       types.DecodedContent(map[string]any{"edit": "insert"}),
	}
	require.NoError(t, h.ProcessMessage(op, false))

	state := h.GetProtocolState(false)
	require.Empty(t, state.Proposals)
	require.Empty(t, state.Values)
}

func TestHandler_Close_RejectsFurtherMessages(t *testing.T) {
	h := NewHandler(types.ProtocolState{}, nil)
	require.NoError(t, h.Close())
	err := h.ProcessMessage(types.SequencedOp{SequenceNumber: 1, Type: types.OpTypeOp}, false)
	require.Error(t, err)
}
