// Package control implements the protocol handler that bootstraps the
// endpoint handoff and drives the worker registry from inbound control
// messages.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Griphcode/vscode/internal/diag"
	"github.com/Griphcode/vscode/internal/log"
	"github.com/Griphcode/vscode/internal/port"
	"github.com/Griphcode/vscode/internal/protocol"
	"github.com/Griphcode/vscode/internal/worker"
)

// State of the handshake.
type State int

const (
	StateIdle State = iota
	StateAwaitingHandoff
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingHandoff:
		return "awaiting-handoff"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// Options tune a Handler. The zero value is usable.
type Options struct {
	// Dial resolves a handed-off endpoint address. Defaults to port.Dial;
	// tests substitute an in-memory pair.
	Dial func(path string) (port.Endpoint, error)

	// OnIdle runs after a terminate leaves the registry empty, letting the
	// owner shut the host down.
	OnIdle func()
}

// Handler interprets inbound control messages and owns the registry. It also
// implements worker.Announcer: the ready announcement is a protocol message
// emitted on successful registration.
type Handler struct {
	writer   *protocol.Writer
	sink     diag.Sink
	registry *worker.Registry
	logger   *slog.Logger
	opts     Options

	mu    sync.Mutex
	state State
}

// New builds a handler writing to w. sink receives every diagnostic this
// runtime produces, including those raised by the registry and controllers.
func New(w *protocol.Writer, sink diag.Sink, opts Options) *Handler {
	if sink == nil {
		sink = diag.Discard
	}
	if opts.Dial == nil {
		opts.Dial = port.Dial
	}
	h := &Handler{
		writer: w,
		sink:   sink,
		logger: log.WithComponent("control"),
		opts:   opts,
		state:  StateIdle,
	}
	h.registry = worker.NewRegistry(sink, h)
	return h
}

// Registry exposes the handler's registry for teardown and the status
// surface.
func (h *Handler) Registry() *worker.Registry {
	return h.registry
}

// State returns the current handshake state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handler) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// WorkerReady implements worker.Announcer.
func (h *Handler) WorkerReady() {
	if err := h.writer.Write(&protocol.Message{ID: protocol.KindWorkerReady}); err != nil {
		h.logger.Error("cannot announce worker", "error", err)
	}
}

// Run requests the endpoint handoff and processes inbound messages until the
// owner closes the channel or ctx is cancelled. Outstanding workers are not
// disposed here; the caller tears the registry down on shutdown.
func (h *Handler) Run(ctx context.Context, r *protocol.Reader) error {
	if err := h.writer.Write(&protocol.Message{ID: protocol.KindRequestPort}); err != nil {
		return fmt.Errorf("request port: %w", err)
	}
	h.setState(StateAwaitingHandoff)
	h.logger.Info("control channel started, awaiting handoff")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msg, err := r.Next()
		if err == io.EOF {
			h.logger.Info("control channel closed by owner")
			return nil
		}
		if errors.Is(err, protocol.ErrMalformed) {
			// One bad line; the stream continues.
			h.sink.Warn(fmt.Sprintf("ignoring malformed control message: %v", err))
			continue
		}
		if err != nil {
			// The stream itself failed and every further read would
			// return the same error. Warn once and stop.
			h.sink.Warn(fmt.Sprintf("control channel unreadable, stopping: %v", err))
			h.logger.Error("control channel read failed", "error", err)
			return err
		}

		h.handle(msg)
	}
}

func (h *Handler) handle(msg *protocol.Message) {
	switch msg.ID {
	case protocol.KindReceivePort:
		h.handleReceivePort(msg)
	case protocol.KindTerminate:
		h.handleTerminate(msg)
	default:
		h.sink.Warn(fmt.Sprintf("unexpected message on control channel: %q", msg.ID))
	}
}

func (h *Handler) handleReceivePort(msg *protocol.Message) {
	if msg.Configuration == nil || msg.Environment == nil || msg.Port == "" {
		h.sink.Warn("received a faulty handoff message, ignoring it")
		return
	}

	endpoint, err := h.opts.Dial(msg.Port)
	if err != nil {
		h.sink.Warn(fmt.Sprintf("cannot connect transferred endpoint: %v", err))
		return
	}

	if _, err := h.registry.Materialize(endpoint, *msg.Configuration, *msg.Environment); err != nil {
		// Already surfaced as an error diagnostic by the registry; the
		// slot stays empty for a retry.
		_ = endpoint.Close()
		h.logger.Error("worker materialization failed", "error", err)
		return
	}
	h.setState(StateActive)
}

func (h *Handler) handleTerminate(msg *protocol.Message) {
	if msg.Configuration == nil {
		h.sink.Warn("received a terminate message without a configuration, ignoring it")
		return
	}

	h.registry.Terminate(*msg.Configuration)
	if h.registry.Len() == 0 && h.opts.OnIdle != nil {
		h.opts.OnIdle()
	}
}

// ChannelSink forwards diagnostics to the owner as protocol messages. Write
// failures are swallowed: diagnostics must never take the runtime down.
type ChannelSink struct {
	writer *protocol.Writer
}

// NewChannelSink wraps w.
func NewChannelSink(w *protocol.Writer) *ChannelSink {
	return &ChannelSink{writer: w}
}

func (s *ChannelSink) Trace(msg string) { s.send(protocol.KindTrace, msg) }
func (s *ChannelSink) Warn(msg string)  { s.send(protocol.KindWarn, msg) }
func (s *ChannelSink) Error(msg string) { s.send(protocol.KindError, msg) }

func (s *ChannelSink) send(kind, msg string) {
	_ = s.writer.Write(&protocol.Message{ID: kind, Text: msg})
}
