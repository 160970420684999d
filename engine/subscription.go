package engine

import (
	"context"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/browser-bridge-go/wire"
)

// Subscription is a bounded queue of notifications matching one filter. It is
// owned by whoever called Subscribe; the engine only holds a reference for
// lookup and drops it on Close or disconnection.
type Subscription struct {
	e        *Engine
	filter   string
	overflow OverflowPolicy

	// ch is never closed: the dispatcher may still be delivering while the
	// owner closes. done signals the end instead.
	ch   chan wire.Notification
	done chan struct{}

	endOnce sync.Once
	mu      sync.Mutex
	reason  error

	dropped atomic.Uint64
}

func newSubscription(e *Engine, filter string, cfg subscribeConfig) *Subscription {
	return &Subscription{
		e:        e,
		filter:   filter,
		overflow: cfg.overflow,
		ch:       make(chan wire.Notification, cfg.buffer),
		done:     make(chan struct{}),
	}
}

// Filter returns the method filter the subscription was created with.
func (s *Subscription) Filter() string { return s.filter }

// Dropped returns how many notifications were lost to overflow.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Next returns the next notification. Once the subscription has ended and its
// queue is drained, Next returns io.EOF.
func (s *Subscription) Next(ctx context.Context) (wire.Notification, error) {
	select {
	case n := <-s.ch:
		return n, nil
	default:
	}
	select {
	case n := <-s.ch:
		return n, nil
	case <-s.done:
		select {
		case n := <-s.ch:
			return n, nil
		default:
		}
		return wire.Notification{}, io.EOF
	case <-ctx.Done():
		return wire.Notification{}, ctx.Err()
	}
}

// All yields notifications until the subscription ends or ctx is done.
func (s *Subscription) All(ctx context.Context) iter.Seq[wire.Notification] {
	return func(yield func(wire.Notification) bool) {
		for {
			n, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(n) {
				return
			}
		}
	}
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended: nil while active or after Close,
// an ErrConnectionLost error after disconnection.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Close unsubscribes. Notifications already queued can still be read.
func (s *Subscription) Close() error {
	s.end(nil)
	s.e.unsubscribe(s)
	return nil
}

func (s *Subscription) end(reason error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}

// deliver queues n without blocking. It reports whether n was queued.
func (s *Subscription) deliver(n wire.Notification) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- n:
		return true
	default:
	}
	if s.overflow == DropOldest {
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.ch <- n:
			return true
		default:
		}
	}
	s.dropped.Add(1)
	return false
}
