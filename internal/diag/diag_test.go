package diag

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiFansOut(t *testing.T) {
	a := NewRecorder()
	b := NewRecorder()
	sink := Multi(a, b)

	sink.Trace("t")
	sink.Warn("w")
	sink.Error("e")

	for _, rec := range []*Recorder{a, b} {
		records := rec.Records()
		require.Len(t, records, 3)
		assert.Equal(t, Record{SeverityTrace, "t"}, records[0])
		assert.Equal(t, Record{SeverityWarn, "w"}, records[1])
		assert.Equal(t, Record{SeverityError, "e"}, records[2])
	}
}

func TestLoggerBridge(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := Logger(l)

	sink.Warn("something odd")

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "WARN", out["level"])
	assert.Equal(t, "something odd", out["msg"])
}

func TestRecorderBySeverity(t *testing.T) {
	r := NewRecorder()
	r.Warn("w1")
	r.Error("e1")
	r.Warn("w2")

	warns := r.BySeverity(SeverityWarn)
	require.Len(t, warns, 2)
	assert.Equal(t, "w1", warns[0].Message)
	assert.Equal(t, "w2", warns[1].Message)
	assert.Empty(t, r.BySeverity(SeverityTrace))
}

func TestDiscard(t *testing.T) {
	// Must not panic.
	Discard.Trace("x")
	Discard.Warn("x")
	Discard.Error("x")
}
