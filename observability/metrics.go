package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	anchorMetricsOnce sync.Once
	anchorRegistry    *AnchorMetrics

	workerMetricsOnce sync.Once
	workerRegistry    *WorkerMetrics

	apiMetricsOnce sync.Once
	apiRegistry    *APIMetrics
)

// AnchorMetrics wraps collectors tracking the anchor state machine.
type AnchorMetrics struct {
	batches  *prometheus.CounterVec
	messages *prometheus.CounterVec
	rejects  *prometheus.CounterVec
	payouts  prometheus.Counter
	depth    *prometheus.GaugeVec
	cursor   prometheus.Gauge
	faulted  prometheus.Gauge
	latency  prometheus.Histogram
}

// Anchor exposes the metrics registry for the anchor engine.
func Anchor() *AnchorMetrics {
	anchorMetricsOnce.Do(func() {
		anchorRegistry = &AnchorMetrics{
			batches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "anchor",
				Name:      "batches_total",
				Help:      "Inbound batches segmented by outcome.",
			}, []string{"outcome"}),
			messages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "anchor",
				Name:      "messages_applied_total",
				Help:      "Inbound messages applied, segmented by action kind.",
			}, []string{"kind"}),
			rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "anchor",
				Name:      "rejects_total",
				Help:      "Rejected batches segmented by error class.",
			}, []string{"class"}),
			payouts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "anchor",
				Name:      "payouts_total",
				Help:      "Payout instructions handed to the reward ledger.",
			}),
			depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "raffle",
				Subsystem: "anchor",
				Name:      "queue_depth",
				Help:      "Messages stored per queue.",
			}, []string{"queue"}),
			cursor: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "raffle",
				Subsystem: "anchor",
				Name:      "inbound_cursor",
				Help:      "Next inbound index the anchor expects.",
			}),
			faulted: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "raffle",
				Subsystem: "anchor",
				Name:      "faulted",
				Help:      "Set to 1 while the anchor refuses batches after an internal failure.",
			}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "raffle",
				Subsystem: "anchor",
				Name:      "submit_duration_seconds",
				Help:      "Latency of batch submissions.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			anchorRegistry.batches,
			anchorRegistry.messages,
			anchorRegistry.rejects,
			anchorRegistry.payouts,
			anchorRegistry.depth,
			anchorRegistry.cursor,
			anchorRegistry.faulted,
			anchorRegistry.latency,
		)
	})
	return anchorRegistry
}

// ObserveBatch records a submission outcome. class is empty on success.
func (m *AnchorMetrics) ObserveBatch(class string, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "applied"
	if class = strings.TrimSpace(class); class != "" {
		outcome = "rejected"
		m.rejects.WithLabelValues(class).Inc()
	}
	m.batches.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.latency.Observe(duration.Seconds())
	}
}

// RecordMessage counts one applied message of kind.
func (m *AnchorMetrics) RecordMessage(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}

func (m *AnchorMetrics) RecordPayouts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.payouts.Add(float64(n))
}

// SetQueueDepth publishes the stored message count of queue.
func (m *AnchorMetrics) SetQueueDepth(queue string, depth uint64) {
	if m == nil {
		return
	}
	m.depth.WithLabelValues(queue).Set(float64(depth))
}

func (m *AnchorMetrics) SetCursor(next uint64) {
	if m == nil {
		return
	}
	m.cursor.Set(float64(next))
}

func (m *AnchorMetrics) SetFaulted(faulted bool) {
	if m == nil {
		return
	}
	if faulted {
		m.faulted.Set(1)
		return
	}
	m.faulted.Set(0)
}

// WorkerMetrics wraps collectors tracking the off-chain raffle worker.
type WorkerMetrics struct {
	cycles      *prometheus.CounterVec
	submissions *prometheus.CounterVec
	lastSuccess prometheus.Gauge
}

// Worker exposes the metrics registry for the raffle worker.
func Worker() *WorkerMetrics {
	workerMetricsOnce.Do(func() {
		workerRegistry = &WorkerMetrics{
			cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "worker",
				Name:      "cycles_total",
				Help:      "Worker polling cycles segmented by outcome.",
			}, []string{"outcome"}),
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "worker",
				Name:      "submissions_total",
				Help:      "Batches submitted to the anchor segmented by action kind.",
			}, []string{"kind"}),
			lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "raffle",
				Subsystem: "worker",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful submission.",
			}),
		}
		prometheus.MustRegister(workerRegistry.cycles, workerRegistry.submissions, workerRegistry.lastSuccess)
	})
	return workerRegistry
}

// ObserveCycle records the outcome of a polling cycle.
func (m *WorkerMetrics) ObserveCycle(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

func (m *WorkerMetrics) RecordSubmission(kind string, at time.Time) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(kind).Inc()
	m.lastSuccess.Set(float64(at.Unix()))
}

// APIMetrics tracks the node HTTP surface.
type APIMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// API returns the lazily-initialised HTTP metrics registry.
func API() *APIMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &APIMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route and status class.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "raffle",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffle",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(apiRegistry.requests, apiRegistry.latency, apiRegistry.throttles)
	})
	return apiRegistry
}

// Observe records a served request. The status should be the code written to
// the response.
func (m *APIMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = strings.TrimSpace(route)
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, statusClass(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *APIMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(route).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
