// Package pipe provides an in-memory transport.Transport pair. Frames sent on
// one end are received, in order, on the other. It backs the engine tests and
// any embedder that plays the browser side in-process.
package pipe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ggoodman/browser-bridge-go/transport"
)

// End is one side of a pipe.
type End struct {
	in   <-chan []byte
	out  chan<- []byte
	link *link
}

// link is the state shared by both ends.
type link struct {
	once   sync.Once
	mu     sync.RWMutex
	done   chan struct{}
	reason error
}

// New returns two connected ends. buffer sets how many frames may be queued in
// each direction before Send blocks.
func New(buffer int) (*End, *End) {
	if buffer < 0 {
		buffer = 0
	}
	ab := make(chan []byte, buffer)
	ba := make(chan []byte, buffer)
	l := &link{done: make(chan struct{})}
	a := &End{in: ba, out: ab, link: l}
	b := &End{in: ab, out: ba, link: l}
	return a, b
}

// Send implements transport.Transport.
func (e *End) Send(ctx context.Context, frame []byte) error {
	select {
	case <-e.link.done:
		return fmt.Errorf("pipe send: %w", transport.ErrClosed)
	default:
	}
	msg := bytes.Clone(frame)
	select {
	case e.out <- msg:
		return nil
	case <-e.link.done:
		return fmt.Errorf("pipe send: %w", transport.ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive implements transport.Transport. Frames already queued when the pipe
// closes are still delivered before the terminal error.
func (e *End) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-e.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-e.in:
		return msg, nil
	case <-e.link.done:
		select {
		case msg := <-e.in:
			return msg, nil
		default:
		}
		return nil, e.link.err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements transport.Transport. Closing either end closes both; the
// peer's Receive reports io.EOF.
func (e *End) Close() error {
	e.CloseWithError(nil)
	return nil
}

// CloseWithError closes both ends and makes Receive report err instead of
// io.EOF. It simulates an abrupt connection failure.
func (e *End) CloseWithError(err error) {
	e.link.once.Do(func() {
		e.link.mu.Lock()
		e.link.reason = err
		e.link.mu.Unlock()
		close(e.link.done)
	})
}

func (l *link) err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.reason != nil {
		return l.reason
	}
	return io.EOF
}

var _ transport.Transport = (*End)(nil)
