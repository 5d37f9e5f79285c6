package port

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// maxFrameSize caps a single relayed message. Anything larger indicates a
// corrupt stream rather than a legitimate payload.
const maxFrameSize = 16 * 1024 * 1024

// Dial connects to the unix socket at path and returns a framed endpoint.
// This is how the out-of-band endpoint transfer lands in this process: the
// owner listens, then names the socket path in its handoff message.
func Dial(path string) (Endpoint, error) {
	c, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial endpoint socket: %w", err)
	}
	return NewConn(c), nil
}

// Listener accepts framed endpoints on a unix socket. Used by owners and by
// tests standing in for the owner.
type Listener struct {
	l net.Listener
}

// Listen creates a unix socket at path.
func Listen(path string) (*Listener, error) {
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen endpoint socket: %w", err)
	}
	return &Listener{l: l}, nil
}

// Accept waits for one connection and wraps it.
func (l *Listener) Accept() (Endpoint, error) {
	c, err := l.l.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept endpoint connection: %w", err)
	}
	return NewConn(c), nil
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	return l.l.Close()
}

// NewConn wraps a stream connection in the length-prefixed frame codec:
// 4-byte big-endian length, then payload.
func NewConn(c net.Conn) Endpoint {
	return &connEndpoint{c: c}
}

type connEndpoint struct {
	c       net.Conn
	readMu  sync.Mutex
	writeMu sync.Mutex
	closed  atomic.Bool
}

func (e *connEndpoint) Send(data []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(data))
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := e.c.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := e.c.Write(data); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

func (e *connEndpoint) Receive() ([]byte, error) {
	e.readMu.Lock()
	defer e.readMu.Unlock()

	var header [4]byte
	if _, err := io.ReadFull(e.c, header[:]); err != nil {
		if e.closed.Load() || err == io.EOF {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(e.c, payload); err != nil {
		if e.closed.Load() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

func (e *connEndpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.c.Close()
}
