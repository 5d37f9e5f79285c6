package status

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Griphcode/vscode/internal/diag"
	"github.com/Griphcode/vscode/internal/events"
	"github.com/Griphcode/vscode/internal/journal"
	"github.com/Griphcode/vscode/internal/worker"
)

type fakeLister struct {
	infos []worker.Info
}

func (f *fakeLister) Snapshot() []worker.Info { return f.infos }
func (f *fakeLister) Len() int                { return len(f.infos) }

type fakeJournal struct {
	entries []journal.Entry
	gotN    int
}

func (f *fakeJournal) Tail(_ context.Context, limit int) ([]journal.Entry, error) {
	f.gotN = limit
	if len(f.entries) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	lister := &fakeLister{infos: []worker.Info{{Fingerprint: "f"}}}
	s := New("127.0.0.1:0", lister, nil, nil)

	rec := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Workers)
}

func TestWorkers(t *testing.T) {
	lister := &fakeLister{infos: []worker.Info{{
		Fingerprint: "abc",
		ModuleID:    "vs/test/worker",
		Type:        "testWorker",
		PID:         42,
		StartedAt:   time.Now().UTC(),
	}}}
	s := New("127.0.0.1:0", lister, nil, nil)

	rec := get(t, s, "/workers")
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []worker.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "abc", infos[0].Fingerprint)
	assert.Equal(t, 42, infos[0].PID)
}

func TestWorkersEmptyIsArray(t *testing.T) {
	s := New("127.0.0.1:0", &fakeLister{}, nil, nil)

	rec := get(t, s, "/workers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestDiagnostics(t *testing.T) {
	j := &fakeJournal{entries: []journal.Entry{
		{ID: "1", Severity: diag.SeverityError, Message: "boom"},
		{ID: "2", Severity: diag.SeverityWarn, Message: "meh"},
	}}
	s := New("127.0.0.1:0", &fakeLister{}, j, nil)

	rec := get(t, s, "/diagnostics?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, j.gotN)

	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].Message)
}

func TestDiagnosticsBadLimit(t *testing.T) {
	s := New("127.0.0.1:0", &fakeLister{}, &fakeJournal{}, nil)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/diagnostics?limit=nope").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/diagnostics?limit=-1").Code)
}

func TestDiagnosticsUnconfigured(t *testing.T) {
	s := New("127.0.0.1:0", &fakeLister{}, nil, nil)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/diagnostics").Code)
}

func TestEvents(t *testing.T) {
	hub := events.NewHub(10)
	hub.Publish(diag.SeverityWarn, "w1")
	hub.Publish(diag.SeverityError, "e1")
	s := New("127.0.0.1:0", &fakeLister{}, nil, hub)

	rec := get(t, s, "/events?since=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var evs []events.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evs))
	require.Len(t, evs, 1)
	assert.Equal(t, "e1", evs[0].Message)
}

func TestEventStream(t *testing.T) {
	hub := events.NewHub(10)
	s := New("127.0.0.1:0", &fakeLister{}, nil, hub)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/events/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscription exists once the headers are out.
	hub.Publish(diag.SeverityWarn, "streamed")

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var ev events.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev))
	assert.Equal(t, "streamed", ev.Message)
	assert.Equal(t, diag.SeverityWarn, ev.Severity)
}

func TestEventStreamUnconfigured(t *testing.T) {
	s := New("127.0.0.1:0", &fakeLister{}, nil, nil)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/events/stream").Code)
}

func TestEventsBadSince(t *testing.T) {
	s := New("127.0.0.1:0", &fakeLister{}, nil, events.NewHub(10))
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/events?since=x").Code)
}
