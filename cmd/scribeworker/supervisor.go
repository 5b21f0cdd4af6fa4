package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/scribelake/scribe/internal/config"
	"github.com/scribelake/scribe/pkg/checkpoint"
	"github.com/scribelake/scribe/pkg/lambda"
	"github.com/scribelake/scribe/pkg/membership"
	"github.com/scribelake/scribe/pkg/metrics"
	"github.com/scribelake/scribe/pkg/summary"
	"github.com/scribelake/scribe/pkg/types"
)

// claimer grants per-document ownership; *membership.Registry in
// production, a fake in supervisor_test.go.
type claimer interface {
	Claim(ctx context.Context, docID types.DocumentID) (*membership.Claim, error)
}

// repoCollaborator is everything the supervisor needs from the document
// repository: the three collaborator roles *repo.Client fills for a
// Lambda, plus the checkpoint fetch used to seed one.
type repoCollaborator interface {
	checkpoint.Repo
	summary.ContentStore
	lambda.PendingMessageReader
	FetchCheckpoint(ctx context.Context, docID types.DocumentID) (types.ScribeCheckpoint, []types.SequencedOp, bool, error)
}

// producerCollaborator is the two collaborator roles *producer.Client
// fills for a Lambda.
type producerCollaborator interface {
	lambda.Producer
	checkpoint.Acker
}

// supervisor owns every document this partition worker currently has
// claimed. It implements admin.Registry for introspection and drives claim
// loss (a dropped ZooKeeper session, or an explicit rebalance) into
// Lambda.Close.
type supervisor struct {
	cfg        config.Config
	membership claimer
	repoClient repoCollaborator
	producer   producerCollaborator
	log        *slog.Logger

	mu   sync.Mutex
	docs map[types.DocumentID]*lambda.Lambda
}

func newSupervisor(cfg config.Config, mem claimer, repoClient repoCollaborator, prod producerCollaborator, log *slog.Logger) *supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &supervisor{
		cfg:        cfg,
		membership: mem,
		repoClient: repoClient,
		producer:   prod,
		log:        log,
		docs:       make(map[types.DocumentID]*lambda.Lambda),
	}
}

// ClaimDocument claims docID for this partition, resumes it from its last
// persisted checkpoint (or starts cold if none exists), and registers it
// for admin introspection.
func (s *supervisor) ClaimDocument(ctx context.Context, tenantID types.TenantID, docID types.DocumentID) error {
	claim, err := s.membership.Claim(ctx, docID)
	if err != nil {
		return fmt.Errorf("claim document %s: %w", docID, err)
	}

	seed, pending, found, err := s.repoClient.FetchCheckpoint(ctx, docID)
	if err != nil {
		return fmt.Errorf("fetch checkpoint for %s: %w", docID, err)
	}

	sessionMetrics := metrics.New(nil, nil, docID)
	l := lambda.New(docID, tenantID, seed, pending, found,
		s.repoClient, s.producer, s.repoClient, false,
		s.producer, s.repoClient, sessionMetrics, s.cfg, false, s.log)

	s.mu.Lock()
	s.docs[docID] = l
	s.mu.Unlock()

	go func() {
		<-claim.Released()
		s.evict(docID, types.CloseRebalance)
	}()

	return nil
}

func (s *supervisor) evict(docID types.DocumentID, reason types.CloseReason) {
	s.mu.Lock()
	l, ok := s.docs[docID]
	delete(s.docs, docID)
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := l.Close(reason); err != nil {
		s.log.Warn("lambda close failed", "doc", docID, "error", err)
	}
}

// Lambda returns the live orchestrator for docID, if this worker has it
// claimed, so the (out-of-scope) transport layer can feed it batches.
func (s *supervisor) Lambda(docID types.DocumentID) (*lambda.Lambda, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.docs[docID]
	return l, ok
}

// Documents implements admin.Registry.
func (s *supervisor) Documents() []types.DocumentID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.DocumentID, 0, len(s.docs))
	for id := range s.docs {
		out = append(out, id)
	}
	return out
}

// Snapshot implements admin.Registry.
func (s *supervisor) Snapshot(docID types.DocumentID) (lambda.Snapshot, bool) {
	s.mu.Lock()
	l, ok := s.docs[docID]
	s.mu.Unlock()
	if !ok {
		return lambda.Snapshot{}, false
	}
	return l.Snapshot(), true
}

// CloseAll closes every claimed document with the given reason, used on
// worker shutdown.
func (s *supervisor) CloseAll(reason types.CloseReason) {
	s.mu.Lock()
	docs := make([]types.DocumentID, 0, len(s.docs))
	for id := range s.docs {
		docs = append(docs, id)
	}
	s.mu.Unlock()

	for _, id := range docs {
		s.evict(id, reason)
	}
}
