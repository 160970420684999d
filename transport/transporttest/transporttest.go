// Package transporttest provides a conformance suite for transport.Transport
// implementations.
package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/browser-bridge-go/transport"
)

// PairFactory returns two connected transports. Frames sent on one must be
// received on the other. The suite closes both when a subtest finishes.
type PairFactory func(t *testing.T) (a, b transport.Transport)

// RunTransportTests exercises ordering, frame integrity under concurrent
// senders, close propagation and context handling.
func RunTransportTests(t *testing.T, newPair PairFactory) {
	t.Helper()

	t.Run("OrderedDelivery", func(t *testing.T) { testOrderedDelivery(t, newPair) })
	t.Run("BothDirections", func(t *testing.T) { testBothDirections(t, newPair) })
	t.Run("ConcurrentSendKeepsFramesWhole", func(t *testing.T) { testConcurrentSend(t, newPair) })
	t.Run("CloseEndsPeerReceive", func(t *testing.T) { testCloseEndsPeerReceive(t, newPair) })
	t.Run("SendAfterClose", func(t *testing.T) { testSendAfterClose(t, newPair) })
	t.Run("ReceiveHonorsContext", func(t *testing.T) { testReceiveHonorsContext(t, newPair) })
}

func pair(t *testing.T, newPair PairFactory) (transport.Transport, transport.Transport) {
	t.Helper()
	a, b := newPair(t)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func receive(t *testing.T, tr transport.Transport) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := tr.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return msg
}

func testOrderedDelivery(t *testing.T, newPair PairFactory) {
	a, b := pair(t, newPair)
	ctx := context.Background()

	const n = 100
	go func() {
		for i := 0; i < n; i++ {
			if err := a.Send(ctx, []byte(fmt.Sprintf(`{"seq":%d}`, i))); err != nil {
				t.Errorf("send %d: %v", i, err)
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		var m struct{ Seq int }
		if err := json.Unmarshal(receive(t, b), &m); err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if m.Seq != i {
			t.Fatalf("expected seq %d, got %d", i, m.Seq)
		}
	}
}

func testBothDirections(t *testing.T, newPair PairFactory) {
	a, b := pair(t, newPair)
	ctx := context.Background()

	go func() { _ = a.Send(ctx, []byte(`"ping"`)) }()
	if got := string(receive(t, b)); got != `"ping"` {
		t.Fatalf("b got %s", got)
	}
	go func() { _ = b.Send(ctx, []byte(`"pong"`)) }()
	if got := string(receive(t, a)); got != `"pong"` {
		t.Fatalf("a got %s", got)
	}
}

func testConcurrentSend(t *testing.T, newPair PairFactory) {
	a, b := pair(t, newPair)
	ctx := context.Background()

	const senders, perSender = 8, 50
	padding := make([]byte, 4096)
	for i := range padding {
		padding[i] = 'x'
	}

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				frame := fmt.Sprintf(`{"sender":%d,"seq":%d,"pad":%q}`, s, i, padding)
				if err := a.Send(ctx, []byte(frame)); err != nil {
					t.Errorf("sender %d: %v", s, err)
					return
				}
			}
		}(s)
	}

	last := make(map[int]int, senders)
	for s := 0; s < senders; s++ {
		last[s] = -1
	}
	for i := 0; i < senders*perSender; i++ {
		var m struct {
			Sender int
			Seq    int
			Pad    string
		}
		raw := receive(t, b)
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("frame %d corrupted: %v", i, err)
		}
		if len(m.Pad) != len(padding) {
			t.Fatalf("frame %d truncated", i)
		}
		if m.Seq != last[m.Sender]+1 {
			t.Fatalf("sender %d out of order: got %d after %d", m.Sender, m.Seq, last[m.Sender])
		}
		last[m.Sender] = m.Seq
	}
	wg.Wait()
}

func testCloseEndsPeerReceive(t *testing.T, newPair PairFactory) {
	a, b := pair(t, newPair)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Receive(context.Background())
		errCh <- err
	}()

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF after orderly close, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("peer receive did not end after close")
	}
}

func testSendAfterClose(t *testing.T, newPair PairFactory) {
	a, _ := pair(t, newPair)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	err := a.Send(context.Background(), []byte(`{}`))
	if !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func testReceiveHonorsContext(t *testing.T, newPair PairFactory) {
	_, b := pair(t, newPair)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := b.Receive(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("receive returned too late: %s", elapsed)
	}
}
