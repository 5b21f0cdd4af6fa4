package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scribelake/scribe/internal/config"
	"github.com/scribelake/scribe/pkg/types"
)

func TestHeuristics_PriorityOrder(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }
	cfg := config.CheckpointHeuristics{Enable: true, MaxMessages: 5, MaxTime: time.Minute, IdleTime: time.Second}
	h := NewHeuristics(cfg, now)

	reason, armIdle := h.Select(true, true)
	require.Equal(t, types.ReasonMarkAsCorrupt, reason)
	require.False(t, armIdle)

	reason, armIdle = h.Select(false, true)
	require.Equal(t, types.ReasonNoClients, reason)
	require.False(t, armIdle)

	h.RecordBatch(5)
	reason, armIdle = h.Select(false, false)
	require.Equal(t, types.ReasonMaxMessages, reason)
	require.False(t, armIdle)

	h.ResetAfterCheckpoint()
	clock = clock.Add(2 * time.Minute)
	reason, armIdle = h.Select(false, false)
	require.Equal(t, types.ReasonMaxTime, reason)
	require.False(t, armIdle)

	h.ResetAfterCheckpoint()
	reason, armIdle = h.Select(false, false)
	require.Equal(t, types.ReasonIdleTime, reason)
	require.True(t, armIdle)
}

func TestHeuristics_DisabledMeansEveryMessage(t *testing.T) {
	cfg := config.CheckpointHeuristics{Enable: false}
	h := NewHeuristics(cfg, nil)

	reason, armIdle := h.Select(false, false)
	require.Equal(t, types.ReasonEveryMessage, reason)
	require.False(t, armIdle)
}
