// Package admin implements the operational HTTP surface every long-running
// scribe worker process needs: liveness, a metrics placeholder, and a
// per-document debug endpoint, using a chi router with a writeJSON
// helper and a ReadHeaderTimeout/graceful-shutdown pattern.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scribelake/scribe/pkg/lambda"
	"github.com/scribelake/scribe/pkg/types"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
)

// Registry exposes the partition worker's claimed documents for
// introspection. cmd/scribeworker implements this over its live
// docID -> *lambda.Lambda map.
type Registry interface {
	Documents() []types.DocumentID
	Snapshot(docID types.DocumentID) (lambda.Snapshot, bool)
}

// Server is the admin HTTP surface.
type Server struct {
	registry   Registry
	httpServer *http.Server
	addr       string
	log        *slog.Logger
}

// New constructs an admin Server bound to addr (e.g. ":8080").
func New(registry Registry, addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{registry: registry, addr: addr, log: log}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/metricz", s.handleMetrics)
	r.Get("/debug/docs", s.handleListDocs)
	r.Get("/debug/docs/{docID}/checkpoint", s.handleDocSnapshot)
	return r
}

// Start begins serving in the background. It returns once the listener
// is bound; Serve errors after that are logged, mirroring the
// teacher's startHTTPServer.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", s.addr, err)
	}
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router(),
		ReadHeaderTimeout: time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("admin HTTP server error", "error", err)
		}
	}()
	s.log.Info("admin HTTP server started", "addr", s.addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("admin: failed to encode response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics is a placeholder text endpoint; pkg/metrics.Collector is
// the real metrics sink and is wired to whatever backend the operator
// chooses.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if _, err := w.Write([]byte("# scribe worker metrics are exported via the configured Collector\n")); err != nil {
		s.log.Warn("admin: failed to write metrics response", "error", err)
	}
}

func (s *Server) handleListDocs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]types.DocumentID{"documents": s.registry.Documents()})
}

func (s *Server) handleDocSnapshot(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	snap, ok := s.registry.Snapshot(docID)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not claimed by this partition worker"})
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}
