package worker

import (
	"bytes"
	"encoding/json"
)

// consoleLogMarker tags remote console records on the child's message stream.
// With pipe logging enabled the child writes its console output as one JSON
// record per line instead of printing to the terminal; the relay forwards
// those records to the logging sink rather than onto the endpoint.
const consoleLogMarker = "__$console"

type consoleRecord struct {
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	Arguments string `json:"arguments"`
}

// parseConsoleRecord reports whether line is a remote console record. The
// cheap substring check runs first so ordinary base64 payload lines never pay
// for a JSON parse.
func parseConsoleRecord(line []byte) (*consoleRecord, bool) {
	if !bytes.Contains(line, []byte(consoleLogMarker)) {
		return nil, false
	}
	var rec consoleRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, false
	}
	if rec.Type != consoleLogMarker {
		return nil, false
	}
	return &rec, true
}
