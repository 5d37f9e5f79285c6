// Package diag defines the diagnostics sink used by every component that
// reports back to the owner. Failures in this runtime never cross the
// control-channel boundary as errors; they are classified and forwarded as
// free-text diagnostics through a Sink.
package diag

import "log/slog"

//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks github.com/Griphcode/vscode/internal/diag Sink

// Severity classifies a diagnostic message.
type Severity string

const (
	SeverityTrace Severity = "trace"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Sink receives classified diagnostic messages. Implementations must be safe
// for concurrent use and must never panic: relay and exit callbacks report
// through a Sink from multiple goroutines.
type Sink interface {
	Trace(msg string)
	Warn(msg string)
	Error(msg string)
}

// Multi fans a diagnostic out to every given sink, in order.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Trace(msg string) {
	for _, s := range m {
		s.Trace(msg)
	}
}

func (m multiSink) Warn(msg string) {
	for _, s := range m {
		s.Warn(msg)
	}
}

func (m multiSink) Error(msg string) {
	for _, s := range m {
		s.Error(msg)
	}
}

// Logger bridges diagnostics to a slog logger.
func Logger(l *slog.Logger) Sink {
	return &logSink{logger: l}
}

type logSink struct {
	logger *slog.Logger
}

func (s *logSink) Trace(msg string) { s.logger.Debug(msg) }
func (s *logSink) Warn(msg string)  { s.logger.Warn(msg) }
func (s *logSink) Error(msg string) { s.logger.Error(msg) }

// Discard is a sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Trace(string) {}
func (discard) Warn(string)  {}
func (discard) Error(string) {}
