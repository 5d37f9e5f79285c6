package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseConfig() Configuration {
	return Configuration{
		Process: ProcessConfig{
			ModuleID: "vs/workbench/services/search/worker/localFileSearch",
			Type:     "fileSearchWorker",
		},
		Reply: ReplyConfig{
			WindowID: 1,
			Channel:  "vscode:shared-worker-port",
			Nonce:    "a",
		},
	}
}

func TestFingerprintIgnoresNonce(t *testing.T) {
	c1 := baseConfig()
	c2 := baseConfig()
	c2.Reply.Nonce = "b"

	assert.Equal(t, Fingerprint(c1), Fingerprint(c2))
}

func TestFingerprintStable(t *testing.T) {
	c := baseConfig()
	assert.Equal(t, Fingerprint(c), Fingerprint(c))
}

func TestFingerprintDistinguishesIdentityFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"moduleId", func(c *Configuration) { c.Process.ModuleID = "vs/other/module" }},
		{"type", func(c *Configuration) { c.Process.Type = "otherWorker" }},
		{"windowId", func(c *Configuration) { c.Reply.WindowID = 2 }},
		{"channel", func(c *Configuration) { c.Reply.Channel = "other-channel" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c1 := baseConfig()
			c2 := baseConfig()
			tt.mutate(&c2)
			assert.NotEqual(t, Fingerprint(c1), Fingerprint(c2))
		})
	}
}
