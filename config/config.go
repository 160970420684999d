// Package config loads bridge settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ggoodman/browser-bridge-go/engine"
	"github.com/joeshaw/envdecode"
)

// Event log backends.
const (
	EventLogMemory = "memory"
	EventLogRedis  = "redis"
	EventLogOff    = "off"
)

// Config is the full bridge configuration. List values are separated by
// semicolons, for example BRIDGE_RECORD_EVENTS="Page.loadEventFired;Network.requestWillBeSent".
type Config struct {
	// BrowserURL is a ws:// debugger URL or an http:// DevTools address.
	BrowserURL  string        `env:"BRIDGE_BROWSER_URL,default=http://127.0.0.1:9222"`
	DialTimeout time.Duration `env:"BRIDGE_DIAL_TIMEOUT,default=10s"`
	CallTimeout time.Duration `env:"BRIDGE_CALL_TIMEOUT,default=30s"`

	SubscriptionBuffer int    `env:"BRIDGE_SUBSCRIPTION_BUFFER,default=64"`
	OverflowPolicy     string `env:"BRIDGE_OVERFLOW_POLICY,default=drop-newest"`

	// EnableDomains are turned on at startup so their events flow.
	EnableDomains []string `env:"BRIDGE_ENABLE_DOMAINS,default=Page;Runtime"`
	// RecordEvents are the notification filters copied into the event log.
	RecordEvents []string `env:"BRIDGE_RECORD_EVENTS,default=*"`

	EventLog         string `env:"BRIDGE_EVENTLOG,default=memory"`
	EventLogCapacity int    `env:"BRIDGE_EVENTLOG_CAPACITY,default=1024"`
	// InstanceID names this bridge's event log namespace. Random when empty.
	InstanceID string `env:"BRIDGE_INSTANCE_ID"`

	RedisAddr      string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisKeyPrefix string `env:"BRIDGE_REDIS_KEY_PREFIX,default=browser-bridge:events:"`
	RedisMaxLen    int64  `env:"BRIDGE_REDIS_MAXLEN,default=10000"`

	// MetricsAddr enables a Prometheus /metrics listener when set.
	MetricsAddr string `env:"BRIDGE_METRICS_ADDR"`
	// Trace selects a span exporter: "" (none) or "stdout".
	Trace    string `env:"BRIDGE_TRACE"`
	LogLevel string `env:"BRIDGE_LOG_LEVEL,default=info"`
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BrowserURL) == "" {
		return errors.New("BRIDGE_BROWSER_URL is required")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("BRIDGE_CALL_TIMEOUT must be positive, got %s", c.CallTimeout)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("BRIDGE_DIAL_TIMEOUT must be positive, got %s", c.DialTimeout)
	}
	if c.SubscriptionBuffer <= 0 {
		return fmt.Errorf("BRIDGE_SUBSCRIPTION_BUFFER must be positive, got %d", c.SubscriptionBuffer)
	}
	if _, ok := engine.ParseOverflowPolicy(c.OverflowPolicy); !ok {
		return fmt.Errorf("BRIDGE_OVERFLOW_POLICY: unknown policy %q", c.OverflowPolicy)
	}
	switch c.EventLog {
	case EventLogMemory, EventLogRedis, EventLogOff:
	default:
		return fmt.Errorf("BRIDGE_EVENTLOG: unknown backend %q", c.EventLog)
	}
	switch c.Trace {
	case "", "stdout":
	default:
		return fmt.Errorf("BRIDGE_TRACE: unknown exporter %q", c.Trace)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Overflow returns the parsed overflow policy.
func (c Config) Overflow() engine.OverflowPolicy {
	p, _ := engine.ParseOverflowPolicy(c.OverflowPolicy)
	return p
}

// Level returns the parsed log level.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("BRIDGE_LOG_LEVEL: %w", err)
	}
	return l, nil
}
