// Command workerhost runs the supervised worker-process runtime. It is meant
// to be spawned by an owner process that speaks the control protocol on this
// process's stdin/stdout: workerhost asks for the communication endpoint,
// spawns workers for each handoff and reports diagnostics back on the same
// channel. Logs go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Griphcode/vscode/internal/config"
	"github.com/Griphcode/vscode/internal/control"
	"github.com/Griphcode/vscode/internal/diag"
	"github.com/Griphcode/vscode/internal/events"
	"github.com/Griphcode/vscode/internal/journal"
	"github.com/Griphcode/vscode/internal/log"
	"github.com/Griphcode/vscode/internal/protocol"
	"github.com/Griphcode/vscode/internal/status"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet("workerhost", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to host config file (optional)")
	logLevel := fs.String("log-level", "", "override log level (DEBUG|INFO|WARN|ERROR)")
	statusListen := fs.String("status-listen", "", "override status server listen address")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *showVersion {
		fmt.Fprintf(os.Stderr, "workerhost %s (%s)\n", version, gitCommit)
		return 0
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "workerhost: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.Service.LogLevel = *logLevel
	}
	if *statusListen != "" {
		cfg.Status.Enabled = true
		cfg.Status.Listen = *statusListen
	}

	log.Setup(cfg.Service.LogLevel)
	log.Info("workerhost starting", "version", version, "pid", os.Getpid())
	log.Debug("configuration resolved",
		"journal", cfg.Journal.Enabled,
		"status", cfg.Status.Enabled,
		"shutdown_grace", cfg.Service.ShutdownGrace)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	writer := protocol.NewWriter(stdout)
	sinks := []diag.Sink{control.NewChannelSink(writer), diag.Logger(log.WithComponent("diag"))}

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		j, err := journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			log.Error("cannot open diagnostics journal", "error", err)
			return 1
		}
		defer j.Close()
		jnl = j
		sinks = append(sinks, jnl.Sink())

		if n, err := jnl.Prune(ctx, cfg.Journal.Retention); err != nil {
			log.Warn("journal prune failed", "error", err)
		} else if n > 0 {
			log.Info("pruned journal entries", "count", n)
		}
	}

	var hub *events.Hub
	if cfg.Status.Enabled {
		hub = events.NewHub(256)
		sinks = append(sinks, hub.Sink())
	}

	// OnIdle fires when a terminate empties the registry: the owner is done
	// with this host.
	handler := control.New(writer, diag.Multi(sinks...), control.Options{OnIdle: cancel})
	defer handler.Registry().Close()

	if cfg.Status.Enabled {
		var reader status.DiagnosticsReader
		if jnl != nil {
			reader = jnl
		}
		srv := status.New(cfg.Status.Listen, handler.Registry(), reader, hub)
		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("status server failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- handler.Run(ctx, protocol.NewReader(stdin))
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("control channel failed", "error", err)
			return 1
		}
		log.Info("control channel finished")
	case <-ctx.Done():
		log.Info("shutdown requested")
		// Give the control loop a moment to notice before tearing down.
		select {
		case <-errCh:
		case <-time.After(cfg.Service.ShutdownGrace):
		}
	}

	log.Info("workerhost stopped")
	return 0
}
