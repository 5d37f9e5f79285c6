// Package port abstracts the communication endpoint handed off by the owner.
// An Endpoint is a duplex byte-message channel: the runtime binds one to each
// worker and relays raw binary buffers across it. Implementations include an
// in-memory pair (tests, in-process owners) and a framed unix socket.
package port

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Send and Receive after an endpoint is closed.
var ErrClosed = errors.New("port: endpoint closed")

// Endpoint is a bidirectional message channel. Send and Receive are safe for
// concurrent use; messages in a single direction are delivered in order.
type Endpoint interface {
	// Send delivers one binary message to the peer.
	Send(data []byte) error

	// Receive blocks until the next message from the peer arrives, or the
	// endpoint is closed.
	Receive() ([]byte, error)

	// Close tears the channel down. Both sides of a pair observe the close.
	Close() error
}

// pairBufferSize bounds in-flight messages per direction of an in-memory pair.
const pairBufferSize = 64

// Pair returns two connected in-memory endpoints. Closing either side closes
// both, like a socket pair.
func Pair() (Endpoint, Endpoint) {
	ab := make(chan []byte, pairBufferSize)
	ba := make(chan []byte, pairBufferSize)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &pairEndpoint{out: ab, in: ba, done: done, closeOnce: once}
	b := &pairEndpoint{out: ba, in: ab, done: done, closeOnce: once}
	return a, b
}

type pairEndpoint struct {
	out       chan []byte
	in        chan []byte
	done      chan struct{}
	closeOnce *sync.Once
}

func (p *pairEndpoint) Send(data []byte) error {
	// Copy so the caller can reuse its buffer.
	msg := make([]byte, len(data))
	copy(msg, data)
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

func (p *pairEndpoint) Receive() ([]byte, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.done:
		// Drain anything delivered before the close.
		select {
		case msg := <-p.in:
			return msg, nil
		default:
		}
		return nil, ErrClosed
	}
}

func (p *pairEndpoint) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	return nil
}
