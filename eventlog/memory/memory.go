// Package memory provides an in-process eventlog.Log. Each namespace keeps a
// bounded ring of the most recent events; older events are discarded.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ggoodman/browser-bridge-go/eventlog"
)

// DefaultCapacity is the per-namespace event limit used when none is given.
const DefaultCapacity = 1024

// Log implements eventlog.Log in memory. State is local to the process.
type Log struct {
	capacity int

	mu         sync.Mutex
	namespaces map[string]*namespace
	seq        int64
}

type namespace struct {
	// events is a ring of len <= capacity; start indexes the oldest.
	events []eventlog.Event
	start  int
}

// Option configures a Log.
type Option func(*Log)

// WithCapacity bounds the number of events retained per namespace.
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// New creates an empty in-memory log.
func New(opts ...Option) *Log {
	l := &Log{
		capacity:   DefaultCapacity,
		namespaces: make(map[string]*namespace),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append implements eventlog.Log.Append.
func (l *Log) Append(ctx context.Context, ns string, ev eventlog.Event) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.namespaces[ns]
	if !ok {
		n = &namespace{events: make([]eventlog.Event, 0, min(l.capacity, 64))}
		l.namespaces[ns] = n
	}

	l.seq++
	ev.ID = strconv.FormatInt(l.seq, 10)

	if len(n.events) < l.capacity {
		n.events = append(n.events, ev)
	} else {
		n.events[n.start] = ev
		n.start = (n.start + 1) % l.capacity
	}
	return ev.ID, nil
}

// Range implements eventlog.Log.Range.
func (l *Log) Range(ctx context.Context, ns string, afterID string, limit int) ([]eventlog.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var after int64
	if afterID != "" {
		v, err := strconv.ParseInt(afterID, 10, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%w: %q", eventlog.ErrInvalidID, afterID)
		}
		after = v
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.namespaces[ns]
	if !ok {
		return nil, nil
	}

	var out []eventlog.Event
	for i := range n.events {
		ev := n.events[(n.start+i)%len(n.events)]
		id, _ := strconv.ParseInt(ev.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Cleanup implements eventlog.Log.Cleanup.
func (l *Log) Cleanup(ctx context.Context, ns string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	delete(l.namespaces, ns)
	l.mu.Unlock()
	return nil
}

var _ eventlog.Log = (*Log)(nil)
