// Package eventlog records browser notifications so agents can read back what
// happened between their calls.
//
// A Log stores events in namespaces. Each bridge instance writes under its own
// namespace, so several instances can share one backend.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidID is returned by Range when afterID is not an id the backend
// could have produced.
var ErrInvalidID = errors.New("invalid event id")

// Event is one recorded notification.
type Event struct {
	// ID is assigned by the Log on Append. IDs increase within a namespace.
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Time      time.Time       `json:"time"`
}

// Log is an append-only, namespaced event store.
type Log interface {
	// Append stores ev in namespace and returns its assigned id. ev.ID is
	// ignored.
	Append(ctx context.Context, namespace string, ev Event) (id string, err error)

	// Range returns events stored after afterID, oldest first. An empty
	// afterID starts at the oldest retained event. A limit <= 0 means no
	// limit. Unknown namespaces yield no events and no error.
	Range(ctx context.Context, namespace string, afterID string, limit int) ([]Event, error)

	// Cleanup removes everything stored under namespace.
	Cleanup(ctx context.Context, namespace string) error
}
