// Package engine correlates browser-control calls with their replies over a
// single shared transport.
//
// One goroutine owns the transport's read side and dispatches frames in the
// order they arrive: replies resolve the pending call with the matching id,
// notifications are copied to matching subscriptions without ever blocking.
// Any number of goroutines may Call concurrently. Every call ends in exactly
// one outcome: a result, a *RemoteError, ErrTimeout, ErrConnectionLost, or the
// caller's own context error when it gives up first.
//
// An Engine serves one connection. When the transport ends, every pending call
// fails with ErrConnectionLost, every subscription ends, and the engine stays
// disconnected; reconnecting means building a new Engine.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/browser-bridge-go/internal/logctx"
	"github.com/ggoodman/browser-bridge-go/transport"
	"github.com/ggoodman/browser-bridge-go/wire"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ggoodman/browser-bridge-go/engine"

// WildcardFilter subscribes to every notification.
const WildcardFilter = "*"

// State is the connection state of an Engine.
type State int

const (
	// StateConnected means calls are accepted.
	StateConnected State = iota
	// StateDisconnected is terminal.
	StateDisconnected
)

func (s State) String() string {
	if s == StateDisconnected {
		return "disconnected"
	}
	return "connected"
}

type outcome struct {
	result json.RawMessage
	err    error
}

// pendingCall is owned by the pending table until someone takes it out. The
// taker is the only party allowed to resolve it, which makes resolution
// happen exactly once.
type pendingCall struct {
	id      int64
	method  string
	started time.Time
	done    chan outcome // buffered 1
}

// Engine is the correlation engine. Construct with New.
type Engine struct {
	t       transport.Transport
	log     *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics

	defaultTimeout time.Duration
	subBuffer      int
	overflow       OverflowPolicy
	onAbandon      AbandonFunc

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingCall
	subs    map[string]map[*Subscription]struct{}
	state   State
	reason  error

	closing atomic.Bool
	done    chan struct{}
}

// New starts an engine over t. The engine takes ownership of t: it is the only
// reader and it closes t on Close or after a fatal send error.
func New(t transport.Transport, opts ...Option) *Engine {
	e := &Engine{
		t:              t,
		log:            slog.Default(),
		tracer:         otel.Tracer(tracerName),
		defaultTimeout: DefaultCallTimeout,
		subBuffer:      DefaultSubscriptionBuffer,
		overflow:       DropNewest,
		pending:        make(map[int64]*pendingCall),
		subs:           make(map[string]map[*Subscription]struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.readLoop()
	return e
}

// Call sends method with params and waits for the matching reply.
//
// Abandoning a call by cancelling ctx removes it from the pending table; a
// reply that arrives later is discarded. Nothing is sent to the browser unless
// an abandon hook is configured.
func (e *Engine) Call(ctx context.Context, method string, params any, opts ...CallOption) (json.RawMessage, error) {
	cfg := callConfig{timeout: e.defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := e.tracer.Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.system", "cdp"), attribute.String("rpc.method", method)),
	)
	defer span.End()

	result, id, err := e.call(ctx, method, params, cfg)
	if id > 0 {
		span.SetAttributes(attribute.Int64("cdp.call.id", id))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (e *Engine) call(ctx context.Context, method string, params any, cfg callConfig) (json.RawMessage, int64, error) {
	if method == "" {
		return nil, 0, wire.ErrEmptyMethod
	}
	payload, err := wire.MarshalPayload(params)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal params for %s: %w", method, err)
	}

	pc := &pendingCall{method: method, started: time.Now(), done: make(chan outcome, 1)}

	// Id assignment and insertion happen together so a reply can never
	// arrive for an id the table does not know yet.
	e.mu.Lock()
	if e.state == StateDisconnected {
		reason := e.reason
		e.mu.Unlock()
		e.metrics.observeCall(method, outcomeConnectionLost, 0)
		return nil, 0, connectionLost(reason)
	}
	e.nextID++
	pc.id = e.nextID
	e.pending[pc.id] = pc
	e.metrics.setPending(len(e.pending))
	e.mu.Unlock()

	// Whatever happens below, the entry does not outlive this call.
	defer e.take(pc.id)

	ctx = logctx.WithCallData(ctx, &logctx.CallData{ID: pc.id, Method: method, SessionID: cfg.sessionID})

	var encOpts []wire.EncodeOption
	if cfg.sessionID != "" {
		encOpts = append(encOpts, wire.WithSessionID(cfg.sessionID))
	}
	frame, err := wire.Encode(method, payload, pc.id, encOpts...)
	if err != nil {
		return nil, pc.id, fmt.Errorf("encode %s: %w", method, err)
	}

	// The deadline covers the send too: a peer that stops reading must not
	// stall a call past its timeout.
	sendCtx := ctx
	var timeout <-chan time.Time
	if cfg.timeout > 0 {
		timer := time.NewTimer(cfg.timeout)
		defer timer.Stop()
		timeout = timer.C

		var cancelSend context.CancelFunc
		sendCtx, cancelSend = context.WithTimeout(ctx, cfg.timeout)
		defer cancelSend()
	}

	if err := e.t.Send(sendCtx, frame); err != nil {
		if e.take(pc.id) == nil {
			// The disconnect sweep got there first.
			o := <-pc.done
			return e.finish(ctx, pc, o)
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return e.abandoned(ctx, pc)
		}
		if sendErr := sendCtx.Err(); sendErr != nil && errors.Is(err, sendErr) {
			// Nothing was written; the connection is still usable.
			return e.timedOut(ctx, pc, cfg.timeout)
		}
		// A failed write leaves the connection in an unknown state; it is
		// fatal for everyone.
		e.log.ErrorContext(ctx, "engine.send.fail", slog.String("err", err.Error()))
		_ = e.t.Close()
		e.metrics.observeCall(method, outcomeConnectionLost, time.Since(pc.started))
		return nil, pc.id, connectionLost(err)
	}
	e.log.DebugContext(ctx, "engine.call.sent")

	select {
	case o := <-pc.done:
		return e.finish(ctx, pc, o)
	case <-timeout:
		if e.take(pc.id) == nil {
			return e.finish(ctx, pc, <-pc.done)
		}
		return e.timedOut(ctx, pc, cfg.timeout)
	case <-ctx.Done():
		if e.take(pc.id) == nil {
			return e.finish(ctx, pc, <-pc.done)
		}
		return e.abandoned(ctx, pc)
	}
}

// timedOut reports a call whose entry the caller already took.
func (e *Engine) timedOut(ctx context.Context, pc *pendingCall, timeout time.Duration) (json.RawMessage, int64, error) {
	e.log.WarnContext(ctx, "engine.call.timeout", slog.Duration("timeout", timeout))
	e.metrics.observeCall(pc.method, outcomeTimeout, time.Since(pc.started))
	return nil, pc.id, fmt.Errorf("%s after %s: %w", pc.method, timeout, ErrTimeout)
}

// abandoned reports a call given up by its caller and runs the abandon hook.
func (e *Engine) abandoned(ctx context.Context, pc *pendingCall) (json.RawMessage, int64, error) {
	e.log.DebugContext(ctx, "engine.call.abandoned", slog.String("err", ctx.Err().Error()))
	e.metrics.observeCall(pc.method, outcomeAbandoned, time.Since(pc.started))
	if e.onAbandon != nil {
		e.onAbandon(pc.id, pc.method)
	}
	return nil, pc.id, ctx.Err()
}

func (e *Engine) finish(ctx context.Context, pc *pendingCall, o outcome) (json.RawMessage, int64, error) {
	elapsed := time.Since(pc.started)
	var remote *RemoteError
	switch {
	case o.err == nil:
		e.metrics.observeCall(pc.method, outcomeOK, elapsed)
		e.log.DebugContext(ctx, "engine.call.ok", slog.Duration("elapsed", elapsed))
	case errors.As(o.err, &remote):
		e.metrics.observeCall(pc.method, outcomeRemoteError, elapsed)
		e.log.DebugContext(ctx, "engine.call.remote_error", slog.Int64("code", remote.Code), slog.String("message", remote.Message))
	default:
		e.metrics.observeCall(pc.method, outcomeConnectionLost, elapsed)
	}
	return o.result, pc.id, o.err
}

// take removes id from the pending table and returns the entry if it was
// still there. Whoever gets a non-nil entry owns its resolution.
func (e *Engine) take(id int64) *pendingCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc, ok := e.pending[id]
	if !ok {
		return nil
	}
	delete(e.pending, id)
	e.metrics.setPending(len(e.pending))
	return pc
}

// Subscribe registers interest in notifications whose method equals filter,
// or in every notification when filter is WildcardFilter.
func (e *Engine) Subscribe(filter string, opts ...SubscribeOption) (*Subscription, error) {
	if filter == "" {
		return nil, ErrEmptyFilter
	}
	cfg := subscribeConfig{buffer: e.subBuffer, overflow: e.overflow}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := newSubscription(e, filter, cfg)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDisconnected {
		return nil, connectionLost(e.reason)
	}
	set := e.subs[filter]
	if set == nil {
		set = make(map[*Subscription]struct{})
		e.subs[filter] = set
	}
	set[s] = struct{}{}
	return s, nil
}

func (e *Engine) unsubscribe(s *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.subs[s.filter]
	if set == nil {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(e.subs, s.filter)
	}
}

// State reports whether the engine is still connected.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the reason the connection ended, or nil while connected.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateConnected {
		return nil
	}
	return connectionLost(e.reason)
}

// Done is closed once the engine has disconnected and failed every pending
// call.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Pending returns the number of calls awaiting a reply.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Close closes the transport and waits until every pending call and
// subscription has been ended with ErrConnectionLost.
func (e *Engine) Close() error {
	e.closing.Store(true)
	err := e.t.Close()
	<-e.done
	return err
}

func (e *Engine) readLoop() {
	// Receive is never interrupted by a context; closing the transport is how
	// the loop is stopped.
	ctx := context.Background()
	var reason error
	for {
		data, err := e.t.Receive(ctx)
		if err != nil {
			reason = err
			break
		}
		e.dispatch(data)
	}
	if e.closing.Load() {
		reason = ErrEngineClosed
	}
	e.disconnect(reason)
}

func (e *Engine) dispatch(data []byte) {
	f := wire.Decode(data)
	switch f.Kind {
	case wire.KindReply:
		e.resolve(f.Reply)
	case wire.KindNotification:
		e.publish(f.Notification)
	default:
		e.metrics.malformedFrame()
		e.log.Warn("engine.frame.malformed", slog.String("err", f.Err.Error()), slog.Int("size", len(data)))
	}
}

func (e *Engine) resolve(r wire.Reply) {
	pc := e.take(r.ID)
	if pc == nil {
		e.metrics.unmatchedReply()
		e.log.Debug("engine.reply.unmatched", slog.Int64("id", r.ID))
		return
	}
	if r.Error != nil {
		pc.done <- outcome{err: &RemoteError{
			Method:  pc.method,
			Code:    r.Error.Code,
			Message: r.Error.Message,
			Data:    r.Error.Data,
		}}
		return
	}
	pc.done <- outcome{result: r.Result}
}

func (e *Engine) publish(n wire.Notification) {
	e.mu.Lock()
	exact := e.subs[n.Method]
	wild := e.subs[WildcardFilter]
	targets := make([]*Subscription, 0, len(exact)+len(wild))
	for s := range exact {
		targets = append(targets, s)
	}
	for s := range wild {
		targets = append(targets, s)
	}
	e.mu.Unlock()

	for _, s := range targets {
		if s.deliver(n.Clone()) {
			e.metrics.notificationDelivered()
		} else {
			e.metrics.notificationDropped()
		}
	}
}

// disconnect is the one place where many entries change at once. Once state
// flips, Call and Subscribe refuse new work, so the sweep sees everything.
func (e *Engine) disconnect(reason error) {
	e.mu.Lock()
	e.state = StateDisconnected
	e.reason = reason
	pending := e.pending
	subs := e.subs
	e.pending = make(map[int64]*pendingCall)
	e.subs = make(map[string]map[*Subscription]struct{})
	e.metrics.setPending(0)
	e.mu.Unlock()

	lost := connectionLost(reason)
	e.log.Info("engine.disconnected",
		slog.String("reason", fmt.Sprint(reason)),
		slog.Int("pending", len(pending)),
	)
	for _, pc := range pending {
		pc.done <- outcome{err: lost}
	}
	for _, set := range subs {
		for s := range set {
			s.end(lost)
		}
	}
	close(e.done)
}
