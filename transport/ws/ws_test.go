package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/browser-bridge-go/transport"
	"github.com/ggoodman/browser-bridge-go/transport/transporttest"
	"github.com/gorilla/websocket"
)

// newServer starts a websocket endpoint and hands every accepted connection,
// wrapped as a transport, to the returned channel.
func newServer(t *testing.T) (string, <-chan *Conn) {
	t.Helper()
	accepted := make(chan *Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		accepted <- New(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), accepted
}

func TestWebSocketConformance(t *testing.T) {
	transporttest.RunTransportTests(t, func(t *testing.T) (transport.Transport, transport.Transport) {
		url, accepted := newServer(t)
		client, err := Dial(context.Background(), url)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		select {
		case server := <-accepted:
			return client, server
		case <-time.After(5 * time.Second):
			t.Fatal("server never accepted connection")
			return nil, nil
		}
	})
}

func TestDialFailureIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no devtools here", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected bad handshake, got %v", err)
	}
	if !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestAbruptPeerFailureIsNotEOF(t *testing.T) {
	url, accepted := newServer(t)
	client, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	server := <-accepted

	// Drop the socket without a close handshake.
	_ = server.conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = client.Receive(ctx)
	if err == nil {
		t.Fatal("expected receive error")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("receive did not notice the dropped socket")
	}
}

func TestReadLimitEnforced(t *testing.T) {
	url, accepted := newServer(t)
	client, err := Dial(context.Background(), url, WithReadLimit(64))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	server := <-accepted
	defer server.Close()

	big := `"` + strings.Repeat("a", 256) + `"`
	if err := server.Send(context.Background(), []byte(big)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := client.Receive(context.Background()); err == nil {
		t.Fatal("expected read limit error")
	}
}

func TestSendWaitingForWriterHonorsContext(t *testing.T) {
	url, accepted := newServer(t)
	client, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	server := <-accepted
	defer server.Close()

	// Another writer holds the connection.
	client.writeSem <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = client.Send(ctx, []byte(`{"id":1,"method":"Page.enable"}`))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("send waited %s for the writer", elapsed)
	}

	// Nothing reached the wire, so the connection is still good.
	<-client.writeSem
	if err := client.Send(context.Background(), []byte(`{"id":2,"method":"Page.enable"}`)); err != nil {
		t.Fatalf("send after giving up: %v", err)
	}
	rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer rcancel()
	got, err := server.Receive(rctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(got) != `{"id":2,"method":"Page.enable"}` {
		t.Fatalf("unexpected frame %s", got)
	}
}
