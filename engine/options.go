package engine

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// DefaultCallTimeout applies to calls made without WithTimeout.
const DefaultCallTimeout = 30 * time.Second

// DefaultSubscriptionBuffer is the per-subscription queue length.
const DefaultSubscriptionBuffer = 64

// OverflowPolicy decides which notification is lost when a subscriber's
// buffer is full. Dispatch never waits for a subscriber.
type OverflowPolicy int

const (
	// DropNewest discards the notification being delivered.
	DropNewest OverflowPolicy = iota
	// DropOldest evicts the oldest queued notification to make room.
	DropOldest
)

// ParseOverflowPolicy maps "drop-newest" and "drop-oldest" to a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, bool) {
	switch s {
	case "", "drop-newest", "newest":
		return DropNewest, true
	case "drop-oldest", "oldest":
		return DropOldest, true
	default:
		return DropNewest, false
	}
}

func (p OverflowPolicy) String() string {
	if p == DropOldest {
		return "drop-oldest"
	}
	return "drop-newest"
}

// AbandonFunc is invoked when a caller gives up on a call (its context ends)
// before the reply arrives. The call is already gone from the pending table.
type AbandonFunc func(id int64, method string)

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithDefaultTimeout sets the deadline applied to calls made without
// WithTimeout. A non-positive value disables the default deadline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) { e.defaultTimeout = d }
}

// WithSubscriptionBuffer sets the default per-subscription queue length.
func WithSubscriptionBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.subBuffer = n
		}
	}
}

// WithOverflowPolicy sets the default subscription overflow policy.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(e *Engine) { e.overflow = p }
}

// WithAbandonHook registers fn to run when a call is abandoned. The engine
// sends nothing to the browser on abandonment; fn may, for example, issue a
// protocol-specific cancel. fn runs on the abandoning caller's goroutine.
func WithAbandonHook(fn AbandonFunc) Option {
	return func(e *Engine) { e.onAbandon = fn }
}

// WithMetrics records call and dispatch statistics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracerProvider overrides the provider used for per-call spans. The
// global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// CallOption customizes a single call.
type CallOption func(*callConfig)

type callConfig struct {
	timeout   time.Duration
	sessionID string
}

// WithTimeout overrides the engine default deadline for one call. A
// non-positive value means the call waits until a reply, disconnection, or
// the caller's context ends.
func WithTimeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.timeout = d }
}

// WithSessionID routes the call to an attached target session.
func WithSessionID(id string) CallOption {
	return func(c *callConfig) { c.sessionID = id }
}

// SubscribeOption customizes a subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	buffer   int
	overflow OverflowPolicy
}

// WithBuffer sets the subscription's queue length.
func WithBuffer(n int) SubscribeOption {
	return func(c *subscribeConfig) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithOverflow sets the subscription's overflow policy.
func WithOverflow(p OverflowPolicy) SubscribeOption {
	return func(c *subscribeConfig) { c.overflow = p }
}
