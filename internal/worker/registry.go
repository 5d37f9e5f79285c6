package worker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Griphcode/vscode/internal/diag"
	"github.com/Griphcode/vscode/internal/log"
	"github.com/Griphcode/vscode/internal/port"
)

// Announcer receives registration lifecycle notifications meant for the
// owner, distinct from diagnostics: a ready announcement is part of the
// control protocol, not a free-text report.
type Announcer interface {
	WorkerReady()
}

// Info is a point-in-time snapshot of one registered worker.
type Info struct {
	Fingerprint string    `json:"fingerprint"`
	ModuleID    string    `json:"moduleId"`
	Type        string    `json:"type"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"startedAt"`
}

// Registry maps configuration fingerprints to live controllers and enforces
// at most one worker per fingerprint. Create and terminate run to completion
// under the lock, so terminate-then-register stays atomic.
type Registry struct {
	mu      sync.Mutex
	records map[Key]*Controller

	sink      diag.Sink
	announcer Announcer
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. announcer may be nil.
func NewRegistry(sink diag.Sink, announcer Announcer) *Registry {
	if sink == nil {
		sink = diag.Discard
	}
	return &Registry{
		records:   make(map[Key]*Controller),
		sink:      sink,
		announcer: announcer,
		logger:    log.WithComponent("registry"),
	}
}

// Materialize creates, spawns and registers a controller for cfg. An existing
// record under the same fingerprint is disposed first; its child is dead
// before the replacement is registered. A spawn failure is reported as an
// error diagnostic and leaves the slot empty so the owner can retry.
func (r *Registry) Materialize(endpoint port.Endpoint, cfg Configuration, env Environment) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Fingerprint(cfg)
	if existing, ok := r.records[key]; ok {
		r.logger.Info("replacing worker", "fingerprint", string(key))
		existing.Dispose()
		delete(r.records, key)
	}

	c := NewController(cfg, env, endpoint, r.sink)
	if err := c.Spawn(); err != nil {
		r.sink.Error(fmt.Sprintf("cannot spawn worker process %s: %v", cfg.Process.Type, err))
		return nil, fmt.Errorf("materialize worker: %w", err)
	}

	r.records[key] = c
	r.logger.Info("worker registered",
		"fingerprint", string(key),
		"module", cfg.Process.ModuleID,
		"pid", c.PID())

	if r.announcer != nil {
		r.announcer.WorkerReady()
	}
	return c, nil
}

// Terminate disposes the worker registered for cfg's fingerprint. Unknown
// fingerprints are a silent no-op.
func (r *Registry) Terminate(cfg Configuration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Fingerprint(cfg)
	c, ok := r.records[key]
	if !ok {
		return
	}
	c.Dispose()
	delete(r.records, key)
	r.logger.Info("worker terminated", "fingerprint", string(key))
}

// Close disposes every outstanding worker. Called on owner-process teardown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, c := range r.records {
		c.Dispose()
		delete(r.records, key)
	}
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Get returns the controller for cfg's fingerprint, if registered.
func (r *Registry) Get(cfg Configuration) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.records[Fingerprint(cfg)]
	return c, ok
}

// Snapshot lists the registered workers for the status surface.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.records))
	for key, c := range r.records {
		out = append(out, Info{
			Fingerprint: string(key),
			ModuleID:    c.cfg.Process.ModuleID,
			Type:        c.cfg.Process.Type,
			PID:         c.PID(),
			StartedAt:   c.StartedAt(),
		})
	}
	return out
}
