// Package worker implements the supervised worker-process runtime: one
// Controller per spawned child process, a Registry enforcing at most one live
// worker per configuration fingerprint, and the byte relay between each child
// and its bound communication endpoint.
package worker

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// ProcessConfig identifies what a worker runs.
type ProcessConfig struct {
	// ModuleID is the module the bootstrap script loads inside the child.
	ModuleID string `json:"moduleId"`
	// Type labels the worker kind, passed to the child as --type=<Type>.
	Type string `json:"type"`
}

// ReplyConfig identifies where the caller expects the endpoint delivered.
type ReplyConfig struct {
	WindowID int    `json:"windowId"`
	Channel  string `json:"channel"`
	// Nonce is per-request entropy, not identity. Two configurations
	// differing only in Nonce name the same worker slot.
	Nonce string `json:"nonce"`
}

// Configuration describes one worker.
type Configuration struct {
	Process ProcessConfig `json:"process"`
	Reply   ReplyConfig   `json:"reply"`
}

// Environment carries the spawn-time environment for a controller. Supplied
// once at handoff and immutable for the controller's lifetime.
type Environment struct {
	// BootstrapPath is the absolute path of the entry program that sets up
	// the child's module loader before handing control to ModuleID.
	BootstrapPath string `json:"bootstrapPath"`
}

// Key is the registry key derived from a Configuration.
type Key string

// Fingerprint digests a configuration into its registry key. Reply.Nonce is
// cleared before hashing, and the struct-driven JSON encoding fixes the field
// order, so structurally equal configurations always produce the same key.
func Fingerprint(cfg Configuration) Key {
	cfg.Reply.Nonce = ""
	data, err := json.Marshal(cfg)
	if err != nil {
		// Configuration contains only plain strings and ints; Marshal
		// cannot fail on it.
		panic(fmt.Sprintf("marshal worker configuration: %v", err))
	}
	sum := blake3.Sum256(data)
	return Key(hex.EncodeToString(sum[:]))
}
