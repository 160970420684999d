package eventlog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/browser-bridge-go/engine"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Subscriber opens notification subscriptions. *engine.Engine implements it.
type Subscriber interface {
	Subscribe(filter string, opts ...engine.SubscribeOption) (*engine.Subscription, error)
}

var (
	// ErrNotStarted is returned by Run before Start has succeeded.
	ErrNotStarted = errors.New("eventlog: recorder not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("eventlog: recorder already started")
)

// Recorder copies browser notifications into a Log. Start opens the
// subscriptions and Run drains them; notifications arriving in between wait
// in the subscription buffers.
type Recorder struct {
	log       Log
	namespace string
	filters   []string
	logger    *slog.Logger
	subOpts   []engine.SubscribeOption
	now       func() time.Time

	mu      sync.Mutex
	started bool
	subs    []*engine.Subscription
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithNamespace sets the namespace events are written under. By default each
// Recorder uses a fresh random namespace.
func WithNamespace(ns string) RecorderOption {
	return func(r *Recorder) {
		if ns != "" {
			r.namespace = ns
		}
	}
}

// WithFilters sets the notification filters to record. The default records
// everything.
func WithFilters(filters ...string) RecorderOption {
	return func(r *Recorder) {
		if len(filters) > 0 {
			r.filters = filters
		}
	}
}

// WithLogger sets the logger used for append failures.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSubscribeOptions passes options to every subscription the Recorder
// opens.
func WithSubscribeOptions(opts ...engine.SubscribeOption) RecorderOption {
	return func(r *Recorder) { r.subOpts = append(r.subOpts, opts...) }
}

// NewRecorder creates a Recorder writing to log.
func NewRecorder(log Log, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		log:       log,
		namespace: uuid.NewString(),
		filters:   []string{engine.WildcardFilter},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Namespace returns the namespace events are written under.
func (r *Recorder) Namespace() string { return r.namespace }

// Recent returns recorded events after afterID, oldest first.
func (r *Recorder) Recent(ctx context.Context, afterID string, limit int) ([]Event, error) {
	return r.log.Range(ctx, r.namespace, afterID, limit)
}

// Start opens one subscription per filter on src. Either every subscription
// is open on return or none is.
func (r *Recorder) Start(src Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}

	subs := make([]*engine.Subscription, 0, len(r.filters))
	for _, f := range r.filters {
		s, err := src.Subscribe(f, r.subOpts...)
		if err != nil {
			for _, open := range subs {
				_ = open.Close()
			}
			return err
		}
		subs = append(subs, s)
	}
	r.subs = subs
	r.started = true
	return nil
}

// Run records until ctx is done or every subscription ends. The
// subscriptions are closed and the namespace is cleaned up on return.
func (r *Recorder) Run(ctx context.Context) error {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()
	if subs == nil {
		return ErrNotStarted
	}

	defer func() {
		for _, s := range subs {
			_ = s.Close()
		}
	}()
	defer func() {
		if err := r.log.Cleanup(context.WithoutCancel(ctx), r.namespace); err != nil {
			r.logger.Warn("eventlog.cleanup.fail", slog.String("namespace", r.namespace), slog.String("err", err.Error()))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range subs {
		g.Go(func() error {
			for n := range s.All(gctx) {
				ev := Event{
					Method:    n.Method,
					Params:    n.Params,
					SessionID: n.SessionID,
					Time:      r.now(),
				}
				if _, err := r.log.Append(gctx, r.namespace, ev); err != nil && gctx.Err() == nil {
					r.logger.Warn("eventlog.append.fail",
						slog.String("method", n.Method),
						slog.String("err", err.Error()),
					)
				}
			}
			return gctx.Err()
		})
	}

	return g.Wait()
}
