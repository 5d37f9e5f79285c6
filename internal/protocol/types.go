// Package protocol defines the control messages exchanged between this
// runtime and its owner, and the line-oriented JSON codec for them. The
// control channel bootstraps the endpoint handoff and carries diagnostics
// back; worker payload traffic never travels here.
package protocol

import "github.com/Griphcode/vscode/internal/worker"

// Message kinds, carried in the envelope's id field.
const (
	// KindRequestPort asks the owner to hand off the communication
	// endpoint. Emitted once at startup.
	KindRequestPort = "request-port"

	// KindReceivePort is the owner's handoff: configuration, environment
	// and the endpoint address to dial.
	KindReceivePort = "receive-port"

	// KindTerminate requests teardown of the named worker.
	KindTerminate = "terminate"

	// KindWorkerReady announces a successful registration.
	KindWorkerReady = "worker-ready"

	// Diagnostics, classified by severity.
	KindTrace = "trace"
	KindWarn  = "warn"
	KindError = "error"
)

// Message is the control-channel envelope. ID names the kind; the remaining
// fields are kind-specific and omitted when empty.
type Message struct {
	ID string `json:"id"`

	// Configuration and Environment accompany receive-port and terminate.
	Configuration *worker.Configuration `json:"configuration,omitempty"`
	Environment   *worker.Environment   `json:"environment,omitempty"`

	// Port is the unix socket path of the transferred endpoint,
	// accompanying receive-port.
	Port string `json:"port,omitempty"`

	// Text carries free-text detail for diagnostics.
	Text string `json:"message,omitempty"`
}

// KnownKind reports whether id names a protocol message kind.
func KnownKind(id string) bool {
	switch id {
	case KindRequestPort, KindReceivePort, KindTerminate,
		KindWorkerReady, KindTrace, KindWarn, KindError:
		return true
	}
	return false
}
