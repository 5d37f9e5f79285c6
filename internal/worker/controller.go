package worker

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Griphcode/vscode/internal/diag"
	"github.com/Griphcode/vscode/internal/log"
	"github.com/Griphcode/vscode/internal/port"
)

// Environment variables the child process observes.
const (
	envEntrypoint     = "VSCODE_AMD_ENTRYPOINT"
	envPipeLogging    = "VSCODE_PIPE_LOGGING"
	envVerboseLogging = "VSCODE_VERBOSE_LOGGING"
	envParentPID      = "VSCODE_PARENT_PID"
)

// unsafeEnv lists variables never forwarded to a child process: credentials
// and proxy/loader overrides inherited from whatever launched this runtime.
var unsafeEnv = []string{
	"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY",
	"http_proxy", "https_proxy", "all_proxy", "no_proxy",
	"LD_PRELOAD", "DYLD_INSERT_LIBRARIES",
	"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_SESSION_TOKEN",
	"GITHUB_TOKEN", "NPM_TOKEN",
}

// maxRelayLine bounds one line of the child's message stream. Base64 expands
// payloads by 4/3, so this comfortably covers the endpoint frame limit.
const maxRelayLine = 32 * 1024 * 1024

// Controller owns exactly one spawned worker process and the relay bound to
// it. All reporting goes through the diagnostics sink; nothing here panics or
// returns errors across the relay boundary after a successful Spawn.
type Controller struct {
	cfg      Configuration
	env      Environment
	endpoint port.Endpoint
	sink     diag.Sink
	logger   *slog.Logger
	console  *slog.Logger

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	startedAt time.Time

	// disposed is checked at the top of every relay, exit and error
	// callback; once set they all become no-ops.
	disposed  atomic.Bool
	connected atomic.Bool
}

// NewController binds a configuration, environment and endpoint together.
// The child process is not started until Spawn.
func NewController(cfg Configuration, env Environment, endpoint port.Endpoint, sink diag.Sink) *Controller {
	if sink == nil {
		sink = diag.Discard
	}
	return &Controller{
		cfg:      cfg,
		env:      env,
		endpoint: endpoint,
		sink:     sink,
		logger:   log.WithWorker(string(Fingerprint(cfg))),
		console:  log.WithModule(cfg.Process.ModuleID),
	}
}

// Spawn launches the worker process and starts the relay pumps. A failure
// here leaves no goroutines behind and may be retried with a new Controller.
func (c *Controller) Spawn() error {
	cmd := exec.Command(c.env.BootstrapPath, "--type="+c.cfg.Process.Type)
	cmd.Env = c.childEnviron()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	c.logger.Debug("spawning worker process",
		"bootstrap", c.env.BootstrapPath,
		"module", c.cfg.Process.ModuleID,
		"type", c.cfg.Process.Type)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker process: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.startedAt = time.Now().UTC()
	c.connected.Store(true)

	go c.pumpChildToEndpoint(stdout)
	go c.pumpEndpointToChild()
	go c.pumpStderr(stderr)
	go c.watchExit()

	return nil
}

// childEnviron clones the ambient environment, overlays the worker variables
// and strips the deny-list. os.Environ is never mutated in place.
func (c *Controller) childEnviron() []string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	env[envEntrypoint] = c.cfg.Process.ModuleID
	env[envPipeLogging] = "true"
	env[envVerboseLogging] = "true"
	env[envParentPID] = strconv.Itoa(os.Getpid())

	for _, k := range unsafeEnv {
		delete(env, k)
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// pumpChildToEndpoint relays the child's message stream to the endpoint.
// Console records branch off to the logging sink; everything else is base64
// payload destined for the endpoint.
func (c *Controller) pumpChildToEndpoint(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxRelayLine)

	for scanner.Scan() {
		if c.disposed.Load() {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if rec, ok := parseConsoleRecord(line); ok {
			c.forwardConsole(rec)
			continue
		}

		payload, err := base64.StdEncoding.DecodeString(string(line))
		if err != nil {
			c.sink.Warn(fmt.Sprintf("dropping malformed message from worker %s: %v", c.cfg.Process.Type, err))
			continue
		}
		if err := c.endpoint.Send(payload); err != nil {
			if c.disposed.Load() {
				return
			}
			c.sink.Warn(fmt.Sprintf("cannot deliver worker message to endpoint: %v", err))
		}
	}
	// A scan error (oversized line, read failure) kills this relay direction
	// while the child may still be alive; that must not pass silently. A nil
	// error means the child exited or closed its stdout, which watchExit
	// reports.
	if err := scanner.Err(); err != nil && !c.disposed.Load() {
		c.sink.Warn(fmt.Sprintf("message relay from worker %s failed, no further messages will be delivered: %v", c.cfg.Process.Type, err))
	}
}

// pumpEndpointToChild relays endpoint buffers to the child's stdin. Buffers
// arriving after the child disconnected are dropped with one warning each.
func (c *Controller) pumpEndpointToChild() {
	for {
		data, err := c.endpoint.Receive()
		if err != nil {
			// Endpoint closed, either by disposal or by the owner.
			return
		}
		if c.disposed.Load() {
			return
		}
		if !c.connected.Load() {
			c.sink.Warn(fmt.Sprintf("attempted to send a message to a terminated worker %s, dropping it", c.cfg.Process.Type))
			continue
		}
		line := base64.StdEncoding.EncodeToString(data) + "\n"
		if _, err := io.WriteString(c.stdin, line); err != nil {
			if c.disposed.Load() {
				return
			}
			c.sink.Warn(fmt.Sprintf("cannot deliver message to worker %s: %v", c.cfg.Process.Type, err))
		}
	}
}

// pumpStderr surfaces child stderr output as warning diagnostics. The child
// is expected to log through the pipe, so anything here is unusual but never
// fatal to the controller.
func (c *Controller) pumpStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if c.disposed.Load() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.sink.Warn(fmt.Sprintf("error from worker %s: %s", c.cfg.Process.Type, line))
	}
	if err := scanner.Err(); err != nil && !c.disposed.Load() {
		c.sink.Warn(fmt.Sprintf("stderr relay from worker %s failed: %v", c.cfg.Process.Type, err))
	}
}

// forwardConsole routes a remote console record to the logging sink,
// attributed to the worker's module.
func (c *Controller) forwardConsole(rec *consoleRecord) {
	switch rec.Severity {
	case "warn":
		c.console.Warn(rec.Arguments)
	case "error":
		c.console.Error(rec.Arguments)
	default:
		c.console.Info(rec.Arguments)
	}
}

// watchExit waits for the child and classifies the exit. Disposed controllers
// stay silent; a clean exit (code 0 or the conventional termination signal)
// is not reported; anything else is a crash diagnostic.
func (c *Controller) watchExit() {
	waitErr := c.cmd.Wait()
	c.connected.Store(false)

	if c.disposed.Load() {
		return
	}

	state := c.cmd.ProcessState
	if state == nil {
		c.sink.Error(fmt.Sprintf("worker process %s vanished: %v", c.cfg.Process.Type, waitErr))
		return
	}

	code := state.ExitCode() // -1 when terminated by a signal
	signal := "none"
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		signal = ws.Signal().String()
	}

	if code == 0 || signal == syscall.SIGTERM.String() {
		c.logger.Debug("worker process exited cleanly")
		return
	}

	c.sink.Error(fmt.Sprintf("worker process %s crashed with exit code %d and signal %s", c.cfg.Process.Type, code, signal))
}

// Dispose forcibly terminates the worker. Idempotent: the disposed flag is
// set before the kill so every in-flight callback observes it and goes
// silent.
func (c *Controller) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	c.connected.Store(false)

	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	if c.endpoint != nil {
		_ = c.endpoint.Close()
	}
	c.logger.Debug("worker controller disposed")
}

// Disposed reports whether Dispose has run.
func (c *Controller) Disposed() bool {
	return c.disposed.Load()
}

// Connected reports whether the child process is still attached to the relay.
func (c *Controller) Connected() bool {
	return c.connected.Load()
}

// Config returns the configuration this controller was created with.
func (c *Controller) Config() Configuration {
	return c.cfg
}

// PID returns the child process id, or 0 before Spawn.
func (c *Controller) PID() int {
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// StartedAt returns the spawn time, zero before Spawn.
func (c *Controller) StartedAt() time.Time {
	return c.startedAt
}
