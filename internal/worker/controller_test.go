package worker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Griphcode/vscode/internal/diag"
	"github.com/Griphcode/vscode/internal/port"
)

// writeBootstrap creates an executable stand-in for the worker bootstrap.
func writeBootstrap(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bootstrap.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testConfig() Configuration {
	return Configuration{
		Process: ProcessConfig{ModuleID: "vs/test/worker", Type: "testWorker"},
		Reply:   ReplyConfig{WindowID: 1, Channel: "c", Nonce: "n"},
	}
}

func spawnController(t *testing.T, script string, sink diag.Sink) (*Controller, port.Endpoint) {
	t.Helper()
	local, remote := port.Pair()
	env := Environment{BootstrapPath: writeBootstrap(t, script)}
	c := NewController(testConfig(), env, local, sink)
	require.NoError(t, c.Spawn())
	t.Cleanup(c.Dispose)
	return c, remote
}

func TestRelayChildToEndpoint(t *testing.T) {
	// aGVsbG8= is base64("hello"); the trailing sleep keeps the child alive
	// so the exit watcher cannot race the assertion.
	_, remote := spawnController(t, `echo aGVsbG8=
sleep 10`, diag.NewRecorder())

	got, err := remote.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestRelayConsoleRecordsBypassEndpoint(t *testing.T) {
	_, remote := spawnController(t, `echo '{"type":"__$console","severity":"log","arguments":"from child"}'
echo d29ya2Vy
sleep 10`, diag.NewRecorder())

	// Only the payload line reaches the endpoint.
	got, err := remote.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("worker"), got)
}

func TestRelayEndpointToChild(t *testing.T) {
	// cat echoes the encoded line straight back, so a message sent to the
	// child comes back decoded through the other relay direction.
	_, remote := spawnController(t, `exec cat`, diag.NewRecorder())

	require.NoError(t, remote.Send([]byte("ping")))
	got, err := remote.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), got)
}

func TestRelayMalformedLineWarnsAndContinues(t *testing.T) {
	rec := diag.NewRecorder()
	_, remote := spawnController(t, `echo 'not!base64!'
echo aGVsbG8=
sleep 10`, rec)

	got, err := remote.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	require.Eventually(t, func() bool {
		return len(rec.BySeverity(diag.SeverityWarn)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOversizedRelayLineWarns(t *testing.T) {
	rec := diag.NewRecorder()
	// One unterminated line past the relay scanner's limit while the child
	// stays alive (blocked on the full stdout pipe): the dead relay must be
	// reported by the pump itself, not left to the exit watcher.
	spawnController(t, `head -c 34000000 /dev/zero | tr '\0' 'A'
sleep 60`, rec)

	require.Eventually(t, func() bool {
		warns := rec.BySeverity(diag.SeverityWarn)
		return len(warns) == 1 && strings.Contains(warns[0].Message, "no further messages will be delivered")
	}, 5*time.Second, 20*time.Millisecond)
	assert.Empty(t, rec.BySeverity(diag.SeverityError))
}

func TestOversizedStderrLineWarns(t *testing.T) {
	rec := diag.NewRecorder()
	spawnController(t, `head -c 1100000 /dev/zero | tr '\0' 'A' >&2
sleep 60`, rec)

	require.Eventually(t, func() bool {
		for _, w := range rec.BySeverity(diag.SeverityWarn) {
			if strings.Contains(w.Message, "stderr relay") {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSendToDisconnectedWorkerDropsWithOneWarning(t *testing.T) {
	rec := diag.NewRecorder()
	c, remote := spawnController(t, `exit 0`, rec)

	require.Eventually(t, func() bool {
		return !c.Connected()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, remote.Send([]byte("too late")))

	require.Eventually(t, func() bool {
		return len(rec.BySeverity(diag.SeverityWarn)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	warn := rec.BySeverity(diag.SeverityWarn)[0]
	assert.Contains(t, warn.Message, "terminated worker")

	// A clean exit produces no crash diagnostic.
	assert.Empty(t, rec.BySeverity(diag.SeverityError))
}

func TestCrashReportsCodeAndSignal(t *testing.T) {
	rec := diag.NewRecorder()
	spawnController(t, `exit 1`, rec)

	require.Eventually(t, func() bool {
		return len(rec.BySeverity(diag.SeverityError)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msg := rec.BySeverity(diag.SeverityError)[0].Message
	assert.Contains(t, msg, "exit code 1")
	assert.Contains(t, msg, "signal none")
}

func TestStderrBecomesWarning(t *testing.T) {
	rec := diag.NewRecorder()
	spawnController(t, `echo "something broke" >&2
sleep 10`, rec)

	require.Eventually(t, func() bool {
		return len(rec.BySeverity(diag.SeverityWarn)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, rec.BySeverity(diag.SeverityWarn)[0].Message, "something broke")
}

func TestDisposeSilencesAllCallbacks(t *testing.T) {
	rec := diag.NewRecorder()
	c, _ := spawnController(t, `sleep 60`, rec)

	c.Dispose()
	assert.True(t, c.Disposed())

	// The kill arrives as an exit event after disposal; it must not be
	// reported. Give the watcher time to observe it.
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, rec.Len())

	// Idempotent.
	c.Dispose()
	assert.True(t, c.Disposed())
}

func TestSpawnFailure(t *testing.T) {
	local, _ := port.Pair()
	env := Environment{BootstrapPath: filepath.Join(t.TempDir(), "missing")}
	c := NewController(testConfig(), env, local, diag.NewRecorder())

	err := c.Spawn()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start worker process")
}

func TestChildEnviron(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://proxy:8080")
	t.Setenv("LD_PRELOAD", "/tmp/evil.so")
	t.Setenv("KEEP_ME", "yes")

	local, _ := port.Pair()
	c := NewController(testConfig(), Environment{BootstrapPath: "/bin/true"}, local, nil)
	env := c.childEnviron()

	joined := strings.Join(env, "\n")
	assert.Contains(t, joined, envEntrypoint+"=vs/test/worker")
	assert.Contains(t, joined, envPipeLogging+"=true")
	assert.Contains(t, joined, envVerboseLogging+"=true")
	assert.Contains(t, joined, envParentPID+"=")
	assert.Contains(t, joined, "KEEP_ME=yes")
	assert.NotContains(t, joined, "HTTP_PROXY=")
	assert.NotContains(t, joined, "LD_PRELOAD=")

	// The ambient environment is untouched.
	assert.Equal(t, "http://proxy:8080", os.Getenv("HTTP_PROXY"))
}

func TestParseConsoleRecord(t *testing.T) {
	tests := []struct {
		name string
		line string
		ok   bool
	}{
		{"console record", `{"type":"__$console","severity":"warn","arguments":"careful"}`, true},
		{"plain payload", "aGVsbG8=", false},
		{"marker in payload", `eyJfXyRjb25zb2xlIjp0cnVlfQ==`, false},
		{"wrong type field", `{"type":"other","severity":"log","arguments":"x"}`, false},
		{"invalid json with marker", `__$console{{{`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := parseConsoleRecord([]byte(tt.line))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, "warn", rec.Severity)
				assert.Equal(t, "careful", rec.Arguments)
			}
		})
	}
}
