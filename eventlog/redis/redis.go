// Package redis provides an eventlog.Log backed by Redis Streams, so several
// bridge instances can share one event store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ggoodman/browser-bridge-go/eventlog"
	"github.com/redis/go-redis/v9"
)

// Log is a Redis Streams implementation of eventlog.Log. Each namespace is
// one stream; ids are the stream entry ids Redis assigns.
type Log struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
}

// Config contains configuration options for the Redis log.
type Config struct {
	// Client is the Redis client to use. If nil, a client for localhost:6379
	// is created.
	Client redis.UniversalClient
	// KeyPrefix is prepended to every key. Defaults to "browser-bridge:events:".
	KeyPrefix string
	// MaxLen caps each stream approximately. Zero means 10000.
	MaxLen int64
}

// New creates a Redis-backed log.
func New(config Config) *Log {
	client := config.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr: "localhost:6379",
		})
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "browser-bridge:events:"
	}

	maxLen := config.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}

	return &Log{
		client:    client,
		keyPrefix: keyPrefix,
		maxLen:    maxLen,
	}
}

// Close closes the Redis connection.
func (l *Log) Close() error {
	return l.client.Close()
}

// Append implements eventlog.Log.Append.
func (l *Log) Append(ctx context.Context, ns string, ev eventlog.Event) (string, error) {
	streamKey := l.streamKey(ns)

	values := map[string]any{
		"method": ev.Method,
		"time":   strconv.FormatInt(ev.Time.UnixNano(), 10),
	}
	if len(ev.Params) > 0 {
		values["params"] = string(ev.Params)
	}
	if ev.SessionID != "" {
		values["session_id"] = ev.SessionID
	}

	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: l.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append event to stream %s: %w", streamKey, err)
	}
	return id, nil
}

// Range implements eventlog.Log.Range.
func (l *Log) Range(ctx context.Context, ns string, afterID string, limit int) ([]eventlog.Event, error) {
	streamKey := l.streamKey(ns)

	start := "-"
	if afterID != "" {
		if !validID(afterID) {
			return nil, fmt.Errorf("%w: %q", eventlog.ErrInvalidID, afterID)
		}
		// Exclusive range start.
		start = "(" + afterID
	}

	var (
		msgs []redis.XMessage
		err  error
	)
	if limit > 0 {
		msgs, err = l.client.XRangeN(ctx, streamKey, start, "+", int64(limit)).Result()
	} else {
		msgs, err = l.client.XRange(ctx, streamKey, start, "+").Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read stream %s: %w", streamKey, err)
	}

	out := make([]eventlog.Event, 0, len(msgs))
	for _, msg := range msgs {
		ev, ok := decodeEvent(msg)
		if !ok {
			// Skip entries this package did not write.
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Cleanup implements eventlog.Log.Cleanup.
func (l *Log) Cleanup(ctx context.Context, ns string) error {
	streamKey := l.streamKey(ns)

	err := l.client.Del(ctx, streamKey).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to cleanup namespace %s: %w", ns, err)
	}
	return nil
}

func (l *Log) streamKey(ns string) string {
	return l.keyPrefix + "stream:" + ns
}

func decodeEvent(msg redis.XMessage) (eventlog.Event, bool) {
	method, ok := msg.Values["method"].(string)
	if !ok {
		return eventlog.Event{}, false
	}
	ev := eventlog.Event{ID: msg.ID, Method: method}
	if p, ok := msg.Values["params"].(string); ok {
		ev.Params = []byte(p)
	}
	if s, ok := msg.Values["session_id"].(string); ok {
		ev.SessionID = s
	}
	if ts, ok := msg.Values["time"].(string); ok {
		if n, err := strconv.ParseInt(ts, 10, 64); err == nil {
			ev.Time = time.Unix(0, n)
		}
	}
	return ev, true
}

// validID reports whether s has the shape of a stream entry id, "ms" or
// "ms-seq".
func validID(s string) bool {
	ms, seq, hasSeq := strings.Cut(s, "-")
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return false
	}
	if hasSeq {
		if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
			return false
		}
	}
	return true
}

var _ eventlog.Log = (*Log)(nil)
