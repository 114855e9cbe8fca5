package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldgrid/fieldgrid/pkg/types"
)

const namespace = "fieldgrid"

// Metrics implements ingest.Recorder and analytics.Recorder. A nil
// *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	batches       *prometheus.CounterVec
	items         *prometheus.CounterVec
	batchDuration prometheus.Histogram
	mismatches    prometheus.Counter
	queryDuration *prometheus.HistogramVec
	purged        prometheus.Counter
	wsClients     prometheus.Gauge
	alertsFired   *prometheus.CounterVec
}

// New registers every collector on a fresh registry, plus the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "batches_total",
			Help: "Batches received, by result (created, duplicate, rejected).",
		}, []string{"result"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "items_total",
			Help: "Committed test results, by computed status.",
		}, []string{"status"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "batch_duration_seconds",
			Help:    "Time to validate, classify and commit a batch.",
			Buckets: prometheus.DefBuckets,
		}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "fingerprint_mismatches_total",
			Help: "Replays whose items differ from the originally committed batch.",
		}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "analytics", Name: "query_duration_seconds",
			Help:    "Analytics query latency, by view.",
			Buckets: prometheus.DefBuckets,
		}, []string{"view"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "idempotency", Name: "purged_total",
			Help: "Idempotency records removed by the retention sweep.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "clients",
			Help: "Connected websocket clients.",
		}),
		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alerts", Name: "fired_total",
			Help: "Out-of-spec alerts fired, by severity.",
		}, []string{"severity"}),
	}
	m.Registry.MustRegister(
		m.batches, m.items, m.batchDuration, m.mismatches,
		m.queryDuration, m.purged, m.wsClients, m.alertsFired,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) BatchIngested(result string, counts types.StatusCounts, d time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(result).Inc()
	m.batchDuration.Observe(d.Seconds())
	if result != "created" {
		return
	}
	m.items.WithLabelValues(types.StatusPass.String()).Add(float64(counts.Pass))
	m.items.WithLabelValues(types.StatusWarn.String()).Add(float64(counts.Warn))
	m.items.WithLabelValues(types.StatusFail.String()).Add(float64(counts.Fail))
}

func (m *Metrics) FingerprintMismatch() {
	if m == nil {
		return
	}
	m.mismatches.Inc()
}

func (m *Metrics) ObserveQuery(view string, d time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(view).Observe(d.Seconds())
}

// Purged counts records removed by the idempotency sweeper.
func (m *Metrics) Purged(n int) {
	if m == nil {
		return
	}
	m.purged.Add(float64(n))
}

// ClientsChanged sets the websocket client gauge.
func (m *Metrics) ClientsChanged(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

// AlertFired counts an alert by severity label.
func (m *Metrics) AlertFired(severity string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(severity).Inc()
}
