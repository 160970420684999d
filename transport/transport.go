// Package transport defines the message-oriented connection the correlation
// engine runs over. Implementations live in sub-packages: ws dials a browser
// over a WebSocket and pipe provides an in-memory pair for tests and embedded
// peers.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned (possibly wrapped) by Send and Receive once the
// transport has been closed.
var ErrClosed = errors.New("transport closed")

// Transport is a bidirectional, message-framed connection.
//
// Send may be called from many goroutines; each frame is written whole and
// frames are never interleaved. Receive has exactly one consumer. Once Receive
// returns an error the connection is gone for good: io.EOF signals an orderly
// close, anything else the failure that ended it.
type Transport interface {
	// Send writes one frame.
	Send(ctx context.Context, frame []byte) error
	// Receive blocks until the next frame arrives, the connection ends, or ctx
	// is done.
	Receive(ctx context.Context) ([]byte, error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
}
