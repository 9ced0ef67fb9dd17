// Package metrics holds the prometheus collectors of the simulation and its
// update feeds. Label values are bounded: builtin names, error kinds and
// transport names only.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every method is a no-op then.
type Metrics struct {
	gatherer prometheus.Gatherer

	tickDuration  prometheus.Histogram
	statements    prometheus.Counter
	execErrors    *prometheus.CounterVec
	unimplemented *prometheus.CounterVec
	liveEntities  prometheus.Gauge
	subscribers   *prometheus.GaugeVec
	framesSent    *prometheus.CounterVec
	bytesSent     *prometheus.CounterVec
	connRejected  *prometheus.CounterVec
}

// New registers the collectors with reg. A fresh registry keeps tests
// isolated from the process-wide default.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qc_tick_duration_seconds",
			Help:    "Time spent simulating one tick",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		statements: f.NewCounter(prometheus.CounterOpts{
			Name: "qc_statements_total",
			Help: "Script statements executed",
		}),
		execErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_exec_errors_total",
			Help: "Script call chains aborted, by error kind",
		}, []string{"kind"}),
		unimplemented: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_builtin_unimplemented_total",
			Help: "Calls to builtins that only log and return",
		}, []string{"builtin"}),
		liveEntities: f.NewGauge(prometheus.GaugeOpts{
			Name: "qc_entities_live",
			Help: "Allocated entities, the world included",
		}),
		subscribers: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qc_feed_subscribers",
			Help: "Connected update feed subscribers",
		}, []string{"transport"}),
		framesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_feed_frames_total",
			Help: "Update frames written to subscribers",
		}, []string{"transport"}),
		bytesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_feed_bytes_total",
			Help: "Encoded update bytes written to subscribers",
		}, []string{"transport"}),
		connRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_feed_rejected_total",
			Help: "Feed connections rejected",
		}, []string{"reason"}),
	}
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) AddStatements(n int) {
	if m == nil || n == 0 {
		return
	}
	m.statements.Add(float64(n))
}

func (m *Metrics) ExecError(kind string) {
	if m == nil {
		return
	}
	m.execErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) UnimplementedBuiltin(name string) {
	if m == nil {
		return
	}
	m.unimplemented.WithLabelValues(name).Inc()
}

func (m *Metrics) SetLiveEntities(n int) {
	if m == nil {
		return
	}
	m.liveEntities.Set(float64(n))
}

func (m *Metrics) SubscriberAdded(transport string) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(transport).Inc()
}

func (m *Metrics) SubscriberRemoved(transport string) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(transport).Dec()
}

func (m *Metrics) FrameSent(transport string, bytes int) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(transport).Inc()
	m.bytesSent.WithLabelValues(transport).Add(float64(bytes))
}

func (m *Metrics) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.connRejected.WithLabelValues(reason).Inc()
}
