// Package status exposes a small read-only HTTP surface over the runtime:
// live workers, recent diagnostics and health. It is off by default and only
// started when a listen address is configured.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Griphcode/vscode/internal/events"
	"github.com/Griphcode/vscode/internal/journal"
	"github.com/Griphcode/vscode/internal/log"
	"github.com/Griphcode/vscode/internal/worker"
)

// WorkerLister provides the registry snapshot.
type WorkerLister interface {
	Snapshot() []worker.Info
	Len() int
}

// DiagnosticsReader provides the journal tail.
type DiagnosticsReader interface {
	Tail(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Server serves the status endpoints.
type Server struct {
	listen    string
	workers   WorkerLister
	journal   DiagnosticsReader
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a status server. journal and hub may be nil; their endpoints
// then report 404.
func New(listen string, workers WorkerLister, j DiagnosticsReader, hub *events.Hub) *Server {
	return &Server{
		listen:    listen,
		workers:   workers,
		journal:   j,
		hub:       hub,
		logger:    log.WithComponent("status"),
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.listen,
		Handler:      s.Routes(),
		ReadTimeout: 10 * time.Second,
		// No write timeout: /events/stream responses are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("status server starting", "listen", s.listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("status server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("status server error: %w", err)
	}
}

// Routes builds the router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/workers", s.handleWorkers)
	r.Get("/diagnostics", s.handleDiagnostics)
	r.Get("/events", s.handleEvents)
	r.Get("/events/stream", s.handleEventStream)

	return r
}

type healthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Workers       int    `json:"workers"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Workers:       s.workers.Len(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	infos := s.workers.Snapshot()
	if infos == nil {
		infos = []worker.Info{}
	}
	s.writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "diagnostics journal not configured")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.Tail(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read diagnostics journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read diagnostics")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeError(w, http.StatusNotFound, "event hub not configured")
		return
	}

	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = n
	}

	s.writeJSON(w, http.StatusOK, s.hub.SnapshotSince(since))
}

// handleEventStream pushes diagnostics to the client as server-sent events
// until it disconnects. Clients that fall behind the hub's buffer miss
// events; /events with ?since= fills gaps.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeError(w, http.StatusNotFound, "event hub not configured")
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			fl.Flush()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
