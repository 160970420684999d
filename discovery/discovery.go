// Package discovery turns a user-supplied browser address into the websocket
// URL of its debugging endpoint.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrNoDebuggerURL is returned when the browser does not advertise a
// websocket debugger URL.
var ErrNoDebuggerURL = errors.New("browser did not report a webSocketDebuggerUrl")

// VersionInfo is the document served at /json/version.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Option configures Resolve.
type Option func(*resolver)

type resolver struct {
	client *http.Client
}

// WithHTTPClient sets the client used to fetch /json/version.
func WithHTTPClient(c *http.Client) Option {
	return func(r *resolver) {
		if c != nil {
			r.client = c
		}
	}
}

// Resolve returns a websocket URL for endpoint. ws:// and wss:// URLs are
// returned unchanged. http://, https:// and bare host:port addresses are
// queried at /json/version.
func Resolve(ctx context.Context, endpoint string, opts ...Option) (string, error) {
	r := resolver{client: http.DefaultClient}
	for _, opt := range opts {
		opt(&r)
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", errors.New("empty browser endpoint")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse browser endpoint: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		return u.String(), nil
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported browser endpoint scheme %q", u.Scheme)
	}

	info, err := r.version(ctx, u)
	if err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("%s: %w", u.Host, ErrNoDebuggerURL)
	}
	return info.WebSocketDebuggerURL, nil
}

func (r resolver) version(ctx context.Context, base *url.URL) (VersionInfo, error) {
	u := *base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/json/version"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return VersionInfo{}, fmt.Errorf("build version request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := r.client.Do(req)
	if err != nil {
		return VersionInfo{}, fmt.Errorf("fetch %s: %w", u.String(), err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return VersionInfo{}, fmt.Errorf("fetch %s: unexpected status %d", u.String(), res.StatusCode)
	}

	var info VersionInfo
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&info); err != nil {
		return VersionInfo{}, fmt.Errorf("decode %s: %w", u.String(), err)
	}
	return info, nil
}
