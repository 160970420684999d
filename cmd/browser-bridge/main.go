// Command browser-bridge exposes a DevTools-speaking browser to an agent as
// MCP tools over stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ggoodman/browser-bridge-go/browser"
	"github.com/ggoodman/browser-bridge-go/browsertools"
	"github.com/ggoodman/browser-bridge-go/config"
	"github.com/ggoodman/browser-bridge-go/discovery"
	"github.com/ggoodman/browser-bridge-go/engine"
	"github.com/ggoodman/browser-bridge-go/eventlog"
	"github.com/ggoodman/browser-bridge-go/eventlog/memory"
	redislog "github.com/ggoodman/browser-bridge-go/eventlog/redis"
	"github.com/ggoodman/browser-bridge-go/internal/logctx"
	"github.com/ggoodman/browser-bridge-go/internal/observability"
	"github.com/ggoodman/browser-bridge-go/mcp"
	"github.com/ggoodman/browser-bridge-go/mcpservice"
	"github.com/ggoodman/browser-bridge-go/stdio"
	"github.com/ggoodman/browser-bridge-go/transport/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const serviceName = "browser-bridge"

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "browser-bridge: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	engineOpts := []engine.Option{
		engine.WithLogger(log),
		engine.WithDefaultTimeout(cfg.CallTimeout),
		engine.WithSubscriptionBuffer(cfg.SubscriptionBuffer),
		engine.WithOverflowPolicy(cfg.Overflow()),
		engine.WithAbandonHook(func(id int64, method string) {
			log.Debug("engine.call.abandoned", slog.Int64("id", id), slog.String("method", method))
		}),
	}

	if cfg.Trace == "stdout" {
		// Stdout carries the agent protocol, so spans go to stderr.
		tp, err := observability.NewTracerProvider(ctx, os.Stderr, serviceName, version)
		if err != nil {
			return err
		}
		defer func() {
			if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
				log.Warn("trace.shutdown.fail", slog.String("err", err.Error()))
			}
		}()
		otel.SetTracerProvider(tp)
		engineOpts = append(engineOpts, engine.WithTracerProvider(tp))
	}

	var reg *prometheus.Registry
	if cfg.MetricsAddr != "" {
		reg = observability.NewRegistry()
		m, err := engine.NewMetrics(reg, "browser_bridge")
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithMetrics(m))
	}

	wsURL, err := discovery.Resolve(ctx, cfg.BrowserURL)
	if err != nil {
		return fmt.Errorf("resolve browser endpoint: %w", err)
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, cfg.DialTimeout)
	conn, err := ws.Dial(dialCtx, wsURL, ws.WithLogger(log))
	cancelDial()
	if err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}
	log.Info("browser.connected", slog.String("url", wsURL))

	e := engine.New(conn, engineOpts...)
	defer e.Close()

	evlog, closeLog, err := newEventLog(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	toolOpts := []browsertools.Option{
		browsertools.WithLogger(log),
		browsertools.WithCallOptions(engine.WithTimeout(cfg.CallTimeout)),
	}
	var rec *eventlog.Recorder
	if evlog != nil {
		recOpts := []eventlog.RecorderOption{
			eventlog.WithFilters(cfg.RecordEvents...),
			eventlog.WithLogger(log),
		}
		if cfg.InstanceID != "" {
			recOpts = append(recOpts, eventlog.WithNamespace(cfg.InstanceID))
		}
		rec = eventlog.NewRecorder(evlog, recOpts...)
		toolOpts = append(toolOpts, browsertools.WithEvents(rec))
	}
	if err := attach(ctx, e, rec, cfg.EnableDomains); err != nil {
		return err
	}

	tools := mcpservice.NewToolsContainer(browsertools.New(e, toolOpts...)...)
	h := stdio.NewHandler(tools,
		stdio.WithLogger(log),
		stdio.WithServerInfo(mcp.ImplementationInfo{Name: serviceName, Version: version}),
		stdio.WithInstructions("Drive the connected browser with the browser_* tools."),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The agent closing stdin ends the whole process.
		defer cancel()
		return ignoreCanceled(h.Serve(gctx))
	})
	if rec != nil {
		g.Go(func() error {
			return ignoreCanceled(rec.Run(gctx))
		})
	}
	if reg != nil {
		g.Go(func() error {
			return observability.ServeMetrics(gctx, cfg.MetricsAddr, reg, log)
		})
	}
	g.Go(func() error {
		select {
		case <-e.Done():
			return e.Err()
		case <-gctx.Done():
			return nil
		}
	})

	return g.Wait()
}

// attach subscribes rec, when set, and then enables domains. Browsers emit a
// burst of events as a domain comes up; subscribing first keeps them.
func attach(ctx context.Context, e *engine.Engine, rec *eventlog.Recorder, domains []string) error {
	if rec != nil {
		if err := rec.Start(e); err != nil {
			return fmt.Errorf("start event recorder: %w", err)
		}
	}
	for _, domain := range domains {
		if _, err := browser.Do(ctx, e, browser.EnableDomain{Domain: domain}); err != nil {
			return fmt.Errorf("enable %s domain: %w", domain, err)
		}
	}
	return nil
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	log := slog.New(logctx.Handler{Handler: handler})
	slog.SetDefault(log)
	return log, nil
}

// newEventLog returns a nil Log when recording is off.
func newEventLog(ctx context.Context, cfg config.Config) (eventlog.Log, func(), error) {
	switch cfg.EventLog {
	case config.EventLogMemory:
		return memory.New(memory.WithCapacity(cfg.EventLogCapacity)), func() {}, nil
	case config.EventLogRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		l := redislog.New(redislog.Config{
			Client:    client,
			KeyPrefix: cfg.RedisKeyPrefix,
			MaxLen:    cfg.RedisMaxLen,
		})
		return l, func() { _ = l.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
