// Package metrics implements the Session Metrics & Trace collaborator:
// output-only instrumentation with no observable effect on control flow.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/scribelake/scribe/pkg/types"
)

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// SessionMetrics is the per-document instrumentation handle: verify-token
// durations, get-session stage trace, session start/end with close reason,
// op-reprocess count, checkpoint outcomes.
type SessionMetrics struct {
	collector Collector
	tracer    trace.Tracer
	docID     types.DocumentID
}

// New constructs a SessionMetrics handle for one document.
func New(collector Collector, tracer trace.Tracer, docID types.DocumentID) *SessionMetrics {
	return &SessionMetrics{collector: collector, tracer: tracer, docID: docID}
}

func (m *SessionMetrics) labels(extra map[string]string) map[string]string {
	labels := map[string]string{"document_id": m.docID}
	for k, v := range extra {
		labels[k] = v
	}
	return labels
}

// RecordVerifyTokenDuration records how long token verification took
// before this session started processing.
func (m *SessionMetrics) RecordVerifyTokenDuration(d time.Duration) {
	if m.collector == nil {
		return
	}
	m.collector.ObserveHistogram("scribe_verify_token_duration_seconds", m.labels(nil), d.Seconds())
}

// StartGetSessionTrace opens a span covering one stage of standing up a
// session for this document (claim, checkpoint fetch, tail replay).
func (m *SessionMetrics) StartGetSessionTrace(ctx context.Context, stage string) (context.Context, trace.Span) {
	if m.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, "scribe.get_session."+stage)
}

// RecordSessionStart logs the start of a scribe session.
func (m *SessionMetrics) RecordSessionStart() {
	if m.collector == nil {
		return
	}
	m.collector.IncCounter("scribe_sessions_started_total", m.labels(nil), 1)
}

// RecordSessionEnd logs the end of a scribe session with its close reason
// and final watermarks.
func (m *SessionMetrics) RecordSessionEnd(reason types.CloseReason, sequenceNumber, protocolHead types.SequenceNumber) {
	if m.collector == nil {
		return
	}
	labels := m.labels(map[string]string{"reason": string(reason)})
	m.collector.IncCounter("scribe_sessions_ended_total", labels, 1)
	m.collector.SetGauge("scribe_session_final_sequence_number", labels, float64(sequenceNumber))
	m.collector.SetGauge("scribe_session_final_protocol_head", labels, float64(protocolHead))
}

// RecordOpReprocessed increments the op-reprocess counter, emitted when a
// batch offset was already handled.
func (m *SessionMetrics) RecordOpReprocessed() {
	if m.collector == nil {
		return
	}
	m.collector.IncCounter("scribe_ops_reprocessed_total", m.labels(nil), 1)
}

// RecordCheckpoint logs a checkpoint outcome.
func (m *SessionMetrics) RecordCheckpoint(reason types.CheckpointReason, success bool) {
	if m.collector == nil {
		return
	}
	labels := m.labels(map[string]string{"reason": string(reason), "success": boolLabel(success)})
	m.collector.IncCounter("scribe_checkpoints_total", labels, 1)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
