package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Griphcode/vscode/internal/diag"
)

// Event is one diagnostic fanned out to status subscribers.
type Event struct {
	Seq      int64         `json:"seq"`
	Severity diag.Severity `json:"severity"`
	Message  string        `json:"message"`
	At       time.Time     `json:"at"`
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextSeq atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

func (h *Hub) Publish(severity diag.Severity, message string) {
	ev := Event{
		Seq:      h.nextSeq.Add(1),
		Severity: severity,
		Message:  message,
		At:       time.Now().UTC(),
	}

	h.mu.Lock()
	h.pushLocked(ev)
	for _, ch := range h.subs {
		// Don't let slow clients block producers.
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered events with Seq > lastSeq, oldest-first.
// If lastSeq is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastSeq int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastSeq == 0 || ev.Seq > lastSeq {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}

// Sink adapts the hub to the diagnostics sink interface.
func (h *Hub) Sink() diag.Sink {
	return hubSink{h}
}

type hubSink struct {
	hub *Hub
}

func (s hubSink) Trace(msg string) { s.hub.Publish(diag.SeverityTrace, msg) }
func (s hubSink) Warn(msg string)  { s.hub.Publish(diag.SeverityWarn, msg) }
func (s hubSink) Error(msg string) { s.hub.Publish(diag.SeverityError, msg) }
