package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrMalformed marks a single undecodable message. Only the offending line is
// lost; the caller can report the violation and read on. Any Next error not
// matching ErrMalformed (and not io.EOF) means the underlying stream itself
// failed and no further reads will succeed.
var ErrMalformed = errors.New("malformed control message")

// Writer serializes messages onto the control channel, one JSON value per
// line. Safe for concurrent use: diagnostics and protocol replies share the
// channel.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriter wraps w, typically the runtime's stdout.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Write validates and emits one message.
func (w *Writer) Write(msg *Message) error {
	if !KnownKind(msg.ID) {
		return fmt.Errorf("unknown message kind: %q", msg.ID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("encode control message: %w", err)
	}
	return nil
}

// maxMessageLine bounds one control message on the wire.
const maxMessageLine = 1024 * 1024

// Reader decodes a stream of control messages, typically from the runtime's
// stdin. It is line-oriented so a malformed message only loses its own line:
// the caller can report the violation and keep reading. Kind recognition is
// also left to the caller so unrecognized kinds can be reported instead of
// aborting the stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxMessageLine)
	return &Reader{scanner: scanner}
}

// Next reads one message. Returns io.EOF when the channel is closed by the
// owner.
func (r *Reader) Next() (*Message, error) {
	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(line))
		dec.DisallowUnknownFields() // Strict parsing

		var msg Message
		if err := dec.Decode(&msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if msg.ID == "" {
			return nil, fmt.Errorf("%w: missing required field: id", ErrMalformed)
		}
		return &msg, nil
	}
	// A scanner error (oversized line, read failure) is sticky: Scan stays
	// false, so this is terminal for the stream, not a per-line violation.
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read control channel: %w", err)
	}
	return nil, io.EOF
}
