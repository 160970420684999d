package eventlog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/browser-bridge-go/engine"
	"github.com/ggoodman/browser-bridge-go/eventlog"
	"github.com/ggoodman/browser-bridge-go/eventlog/memory"
	"github.com/ggoodman/browser-bridge-go/transport/pipe"
	"github.com/ggoodman/browser-bridge-go/wire"
	"github.com/stretchr/testify/require"
)

func notify(t *testing.T, peer *pipe.End, method string, params any) {
	t.Helper()
	frame, err := wire.EncodeNotification(method, params)
	require.NoError(t, err)
	require.NoError(t, peer.Send(context.Background(), frame))
}

func waitForMethod(t *testing.T, rec *eventlog.Recorder, method string) eventlog.Event {
	t.Helper()
	var got eventlog.Event
	require.Eventually(t, func() bool {
		events, err := rec.Recent(context.Background(), "", 0)
		if err != nil {
			return false
		}
		for _, ev := range events {
			if ev.Method == method {
				got = ev
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

func TestRecorderRecordsFilteredNotifications(t *testing.T) {
	client, peer := pipe.New(16)
	e := engine.New(client)
	defer e.Close()

	log := memory.New()
	rec := eventlog.NewRecorder(log,
		eventlog.WithNamespace("instance-1"),
		eventlog.WithFilters("Page.loadEventFired", "Network.requestWillBeSent"),
	)
	require.Equal(t, "instance-1", rec.Namespace())
	require.NoError(t, rec.Start(e))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	notify(t, peer, "Page.loadEventFired", map[string]float64{"timestamp": 1})
	notify(t, peer, "Runtime.consoleAPICalled", map[string]string{"type": "log"})
	notify(t, peer, "Network.requestWillBeSent", map[string]string{"requestId": "R1"})

	waitForMethod(t, rec, "Page.loadEventFired")
	got := waitForMethod(t, rec, "Network.requestWillBeSent")
	require.JSONEq(t, `{"requestId":"R1"}`, string(got.Params))
	require.False(t, got.Time.IsZero())

	events, err := rec.Recent(context.Background(), "", 0)
	require.NoError(t, err)
	for _, ev := range events {
		require.NotEqual(t, "Runtime.consoleAPICalled", ev.Method)
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// The namespace is removed when the recorder stops.
	events, err = log.Range(context.Background(), "instance-1", "", 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestRecorderKeepsEventsSentBeforeRun(t *testing.T) {
	client, peer := pipe.New(16)
	e := engine.New(client)
	defer e.Close()

	rec := eventlog.NewRecorder(memory.New())
	require.NoError(t, rec.Start(e))

	// Sent right after subscribing, before anything drains the subscription.
	notify(t, peer, "Runtime.executionContextCreated", map[string]any{"context": map[string]int{"id": 1}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	got := waitForMethod(t, rec, "Runtime.executionContextCreated")
	require.JSONEq(t, `{"context":{"id":1}}`, string(got.Params))

	cancel()
	<-done
}

func TestRecorderRunRequiresStart(t *testing.T) {
	rec := eventlog.NewRecorder(memory.New())
	require.ErrorIs(t, rec.Run(context.Background()), eventlog.ErrNotStarted)
}

func TestRecorderStartTwice(t *testing.T) {
	client, _ := pipe.New(1)
	e := engine.New(client)
	defer e.Close()

	rec := eventlog.NewRecorder(memory.New())
	require.NoError(t, rec.Start(e))
	require.ErrorIs(t, rec.Start(e), eventlog.ErrAlreadyStarted)
}

// failingSubscriber refuses every filter after the first.
type failingSubscriber struct {
	e      *engine.Engine
	opened []*engine.Subscription
}

func (f *failingSubscriber) Subscribe(filter string, opts ...engine.SubscribeOption) (*engine.Subscription, error) {
	if len(f.opened) > 0 {
		return nil, errors.New("no more subscriptions")
	}
	s, err := f.e.Subscribe(filter, opts...)
	if err == nil {
		f.opened = append(f.opened, s)
	}
	return s, err
}

func TestRecorderStartClosesPartialSubscriptions(t *testing.T) {
	client, _ := pipe.New(1)
	e := engine.New(client)
	defer e.Close()

	src := &failingSubscriber{e: e}
	rec := eventlog.NewRecorder(memory.New(), eventlog.WithFilters("Page.loadEventFired", "Page.frameNavigated"))
	require.EqualError(t, rec.Start(src), "no more subscriptions")

	require.Len(t, src.opened, 1)
	select {
	case <-src.opened[0].Done():
	case <-time.After(time.Second):
		t.Fatal("first subscription was left open")
	}
	require.ErrorIs(t, rec.Run(context.Background()), eventlog.ErrNotStarted)
}

func TestRecorderStopsOnDisconnect(t *testing.T) {
	client, peer := pipe.New(16)
	e := engine.New(client)
	defer e.Close()

	rec := eventlog.NewRecorder(memory.New())
	require.NotEmpty(t, rec.Namespace())
	require.NoError(t, rec.Start(e))

	done := make(chan error, 1)
	go func() { done <- rec.Run(context.Background()) }()

	require.NoError(t, peer.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after disconnect")
	}
}

func TestRecorderFailsAfterDisconnect(t *testing.T) {
	client, peer := pipe.New(1)
	e := engine.New(client)
	require.NoError(t, peer.Close())
	<-e.Done()

	err := eventlog.NewRecorder(memory.New()).Start(e)
	require.ErrorIs(t, err, engine.ErrConnectionLost)
}
