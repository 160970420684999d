package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func versionServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveWebSocketURLUnchanged(t *testing.T) {
	for _, in := range []string{
		"ws://127.0.0.1:9222/devtools/browser/abc",
		"wss://example.com/devtools/browser/abc",
	} {
		got, err := Resolve(context.Background(), in)
		require.NoError(t, err)
		require.Equal(t, in, got)
	}
}

func TestResolveQueriesVersionEndpoint(t *testing.T) {
	srv := versionServer(t, `{
		"Browser": "HeadlessChrome/126.0.6478.126",
		"Protocol-Version": "1.3",
		"webSocketDebuggerUrl": "ws://127.0.0.1:9222/devtools/browser/abc"
	}`, http.StatusOK)

	got, err := Resolve(context.Background(), srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", got)

	// A bare host:port is treated as http.
	got, err = Resolve(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", got)
}

func TestResolveMissingDebuggerURL(t *testing.T) {
	srv := versionServer(t, `{"Browser":"Chrome"}`, http.StatusOK)

	_, err := Resolve(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrNoDebuggerURL)
}

func TestResolveBadStatus(t *testing.T) {
	srv := versionServer(t, `nope`, http.StatusInternalServerError)

	_, err := Resolve(context.Background(), srv.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status 500")
}

func TestResolveRejectsOtherSchemes(t *testing.T) {
	_, err := Resolve(context.Background(), "ftp://example.com")
	require.Error(t, err)

	_, err = Resolve(context.Background(), "  ")
	require.Error(t, err)
}

func TestResolveHonorsContext(t *testing.T) {
	srv := versionServer(t, `{}`, http.StatusOK)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Resolve(ctx, srv.URL)
	require.ErrorIs(t, err, context.Canceled)
}
