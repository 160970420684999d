package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK             = "ok"
	outcomeRemoteError    = "remote_error"
	outcomeTimeout        = "timeout"
	outcomeConnectionLost = "connection_lost"
	outcomeAbandoned      = "abandoned"
)

// Metrics holds the Prometheus collectors an Engine reports to. A nil
// *Metrics records nothing.
type Metrics struct {
	calls         *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	pending       prometheus.Gauge
	notifications *prometheus.CounterVec
	malformed     prometheus.Counter
	unmatched     prometheus.Counter
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "calls_total",
			Help:      "Browser calls by method and terminal outcome.",
		}, []string{"method", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "call_duration_seconds",
			Help:      "Time from submission to terminal outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}, []string{"method"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "pending_calls",
			Help:      "Calls awaiting a reply.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "notifications_total",
			Help:      "Notification deliveries to subscriptions by result.",
		}, []string{"result"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "malformed_frames_total",
			Help:      "Inbound frames dropped because they could not be decoded.",
		}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "unmatched_replies_total",
			Help:      "Replies whose id had no pending call.",
		}),
	}
	for _, c := range []prometheus.Collector{m.calls, m.latency, m.pending, m.notifications, m.malformed, m.unmatched} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeCall(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(method, outcome).Inc()
	if elapsed > 0 {
		m.latency.WithLabelValues(method).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) notificationDelivered() {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues("delivered").Inc()
}

func (m *Metrics) notificationDropped() {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues("dropped").Inc()
}

func (m *Metrics) malformedFrame() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) unmatchedReply() {
	if m == nil {
		return
	}
	m.unmatched.Inc()
}
