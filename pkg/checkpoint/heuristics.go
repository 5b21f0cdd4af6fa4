package checkpoint

import (
	"sync"
	"time"

	"github.com/scribelake/scribe/internal/config"
	"github.com/scribelake/scribe/pkg/types"
)

// Heuristics tracks the per-document bookkeeping needed to pick a
// checkpoint reason, per the priority list:
//  1. MarkAsCorrupt   2. NoClients   3. EveryMessage
//  4. MaxMessages     5. MaxTime     6. IdleTime
//
// RecordBatch/Select run on the document's own processing goroutine;
// ResetAfterCheckpoint runs from the Checkpoint Manager's settle
// callback, which fires from whichever goroutine that write's
// coalescing chain happens to land on. The mutex covers that handoff.
type Heuristics struct {
	cfg config.CheckpointHeuristics
	now func() time.Time

	mu                             sync.Mutex
	rawMessagesSinceLastCheckpoint int
	lastCheckpointTime             time.Time
}

// NewHeuristics seeds a heuristics tracker. now defaults to time.Now and
// is overridable for deterministic tests.
func NewHeuristics(cfg config.CheckpointHeuristics, now func() time.Time) *Heuristics {
	if now == nil {
		now = time.Now
	}
	return &Heuristics{cfg: cfg, now: now, lastCheckpointTime: now()}
}

// RecordBatch increments the raw-message counter, called once per
// processed batch before the reason is selected.
func (h *Heuristics) RecordBatch(opCount int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rawMessagesSinceLastCheckpoint += opCount
}

// ResetAfterCheckpoint clears the counters after a checkpoint has been
// written (successfully or as a deliberate MarkAsCorrupt/NoClients write).
func (h *Heuristics) ResetAfterCheckpoint() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rawMessagesSinceLastCheckpoint = 0
	h.lastCheckpointTime = h.now()
}

// Select returns the checkpoint reason for this batch and whether, absent
// any of reasons 1-5, an idle timer should be armed instead of
// checkpointing immediately.
func (h *Heuristics) Select(forceCorrupt, sawNoClient bool) (reason types.CheckpointReason, armIdle bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case forceCorrupt:
		return types.ReasonMarkAsCorrupt, false
	case sawNoClient:
		return types.ReasonNoClients, false
	case !h.cfg.Enable:
		return types.ReasonEveryMessage, false
	case h.rawMessagesSinceLastCheckpoint >= h.cfg.MaxMessages:
		return types.ReasonMaxMessages, false
	case h.now().Sub(h.lastCheckpointTime) >= h.cfg.MaxTime:
		return types.ReasonMaxTime, false
	default:
		return types.ReasonIdleTime, true
	}
}

// IdleDelay returns the configured idle window, jittered slightly so many
// documents on one partition do not all fire their idle checkpoint in
// lockstep.
func (h *Heuristics) IdleDelay() time.Duration {
	return jitter(h.cfg.IdleTime)
}
