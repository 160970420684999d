// Package eventlogtest is a conformance suite for eventlog.Log backends.
package eventlogtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/browser-bridge-go/eventlog"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// LogFactory creates a fresh log for one subtest.
type LogFactory func(t *testing.T) eventlog.Log

// RunLogTests runs the complete suite against logs from factory. Namespaces
// are random, so backends with shared state do not need to be emptied
// between runs.
func RunLogTests(t *testing.T, factory LogFactory) {
	t.Run("AppendThenRangeFromStart", func(t *testing.T) {
		testAppendThenRangeFromStart(t, factory)
	})
	t.Run("RangeAfterID", func(t *testing.T) {
		testRangeAfterID(t, factory)
	})
	t.Run("RangeLimit", func(t *testing.T) {
		testRangeLimit(t, factory)
	})
	t.Run("FieldsPreserved", func(t *testing.T) {
		testFieldsPreserved(t, factory)
	})
	t.Run("NamespaceIsolation", func(t *testing.T) {
		testNamespaceIsolation(t, factory)
	})
	t.Run("UnknownNamespaceIsEmpty", func(t *testing.T) {
		testUnknownNamespaceIsEmpty(t, factory)
	})
	t.Run("InvalidAfterID", func(t *testing.T) {
		testInvalidAfterID(t, factory)
	})
	t.Run("Cleanup", func(t *testing.T) {
		testCleanup(t, factory)
	})
	t.Run("ConcurrentAppends", func(t *testing.T) {
		testConcurrentAppends(t, factory)
	})
	t.Run("CanceledContext", func(t *testing.T) {
		testCanceledContext(t, factory)
	})
}

func newNamespace(t *testing.T, l eventlog.Log) string {
	t.Helper()
	ns := "test-" + uuid.NewString()
	t.Cleanup(func() {
		_ = l.Cleanup(context.Background(), ns)
	})
	return ns
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func appendN(t *testing.T, l eventlog.Log, ns string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := range n {
		id, err := l.Append(testContext(t), ns, eventlog.Event{
			Method: fmt.Sprintf("Test.event%d", i),
			Time:   time.Now(),
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		ids = append(ids, id)
	}
	return ids
}

func methods(events []eventlog.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Method
	}
	return out
}

func testAppendThenRangeFromStart(t *testing.T, factory LogFactory) {
	l := factory(t)
	ns := newNamespace(t, l)

	ids := appendN(t, l, ns, 3)

	events, err := l.Range(testContext(t), ns, "", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"Test.event0", "Test.event1", "Test.event2"}, methods(events))
	for i, ev := range events {
		require.Equal(t, ids[i], ev.ID)
	}
}

func testRangeAfterID(t *testing.T, factory LogFactory) {
	l := factory(t)
	ns := newNamespace(t, l)

	ids := appendN(t, l, ns, 4)

	events, err := l.Range(testContext(t), ns, ids[1], 0)
	require.NoError(t, err)
	require.Equal(t, []string{"Test.event2", "Test.event3"}, methods(events))

	events, err = l.Range(testContext(t), ns, ids[3], 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func testRangeLimit(t *testing.T, factory LogFactory) {
	l := factory(t)
	ns := newNamespace(t, l)

	ids := appendN(t, l, ns, 5)

	events, err := l.Range(testContext(t), ns, "", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"Test.event0", "Test.event1"}, methods(events))

	events, err = l.Range(testContext(t), ns, ids[1], 2)
	require.NoError(t, err)
	require.Equal(t, []string{"Test.event2", "Test.event3"}, methods(events))
}

func testFieldsPreserved(t *testing.T, factory LogFactory) {
	l := factory(t)
	ns := newNamespace(t, l)

	now := time.Now()
	in := eventlog.Event{
		ID:        "ignored",
		Method:    "Page.loadEventFired",
		Params:    json.RawMessage(`{"timestamp":12.5}`),
		SessionID: "S1",
		Time:      now,
	}
	id, err := l.Append(testContext(t), ns, in)
	require.NoError(t, err)
	require.NotEqual(t, "ignored", id)

	events, err := l.Range(testContext(t), ns, "", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	require.Equal(t, id, got.ID)
	require.Equal(t, in.Method, got.Method)
	require.JSONEq(t, string(in.Params), string(got.Params))
	require.Equal(t, in.SessionID, got.SessionID)
	require.WithinDuration(t, now, got.Time, time.Millisecond)
}

func testNamespaceIsolation(t *testing.T, factory LogFactory) {
	l := factory(t)
	a := newNamespace(t, l)
	b := newNamespace(t, l)

	appendN(t, l, a, 2)
	appendN(t, l, b, 1)

	events, err := l.Range(testContext(t), a, "", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	events, err = l.Range(testContext(t), b, "", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func testUnknownNamespaceIsEmpty(t *testing.T, factory LogFactory) {
	l := factory(t)

	events, err := l.Range(testContext(t), "missing-"+uuid.NewString(), "", 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func testInvalidAfterID(t *testing.T, factory LogFactory) {
	l := factory(t)
	ns := newNamespace(t, l)
	appendN(t, l, ns, 1)

	_, err := l.Range(testContext(t), ns, "not-an-id", 0)
	require.ErrorIs(t, err, eventlog.ErrInvalidID)
}

func testCleanup(t *testing.T, factory LogFactory) {
	l := factory(t)
	ns := newNamespace(t, l)
	appendN(t, l, ns, 3)

	require.NoError(t, l.Cleanup(testContext(t), ns))

	events, err := l.Range(testContext(t), ns, "", 0)
	require.NoError(t, err)
	require.Empty(t, events)

	// The namespace is usable again afterwards.
	appendN(t, l, ns, 1)
	events, err = l.Range(testContext(t), ns, "", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func testConcurrentAppends(t *testing.T, factory LogFactory) {
	l := factory(t)
	ns := newNamespace(t, l)

	const n = 50
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{}, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := l.Append(context.Background(), ns, eventlog.Event{
				Method: fmt.Sprintf("Test.concurrent%d", i),
				Time:   time.Now(),
			})
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, ids, n)

	events, err := l.Range(testContext(t), ns, "", 0)
	require.NoError(t, err)
	require.Len(t, events, n)
	for _, ev := range events {
		require.Contains(t, ids, ev.ID)
	}
}

func testCanceledContext(t *testing.T, factory LogFactory) {
	l := factory(t)
	ns := newNamespace(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Append(ctx, ns, eventlog.Event{Method: "Test.event", Time: time.Now()})
	require.Error(t, err)
}
