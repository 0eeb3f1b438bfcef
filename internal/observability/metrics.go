package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes used as metric label values.
const (
	OutcomeOK              = "ok"
	OutcomeParseError      = "parse_error"
	OutcomeValidationError = "validation_error"
	OutcomeHandlerError    = "handler_error"
	OutcomeDispatchError   = "dispatch_error"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Turns            *prometheus.CounterVec
	Dispatches       *prometheus.CounterVec
	ValidationErrors *prometheus.CounterVec
	TurnLogFailures  prometheus.Counter
	TurnLatency      prometheus.Histogram

	window *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Handled webhook turns by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		Dispatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatched turns by resolved intent.",
		}, []string{"intent"}),
		ValidationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_errors_total",
			Help:      "Local validation failures by reason.",
		}, []string{"reason"}),
		TurnLogFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turnlog_failures_total",
			Help:      "Turn log writes that failed and were dropped.",
		}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end webhook turn latency in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		window: newStageWindow(256),
	}
}

// ObserveTurnLatency records end-to-end latency in both the histogram and
// the rolling window served by the perf endpoint.
func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	m.TurnLatency.Observe(ms)
	m.window.Observe("turn_total", ms)
}

// ObserveStage records one named turn stage in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.window.Observe(stage, float64(d.Microseconds())/1000)
}

// ObserveOutcomeIndicator counts a named outcome in the rolling window.
func (m *Metrics) ObserveOutcomeIndicator(name string) {
	m.window.ObserveIndicator(name)
}

// SnapshotStages returns rolling latency statistics for the perf endpoint.
func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
