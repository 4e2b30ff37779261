package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// safe to call, so unit tests can pass nil without registering collectors.
type Metrics struct {
	EventsIngested  *prometheus.CounterVec
	EventsProcessed *prometheus.CounterVec
	EventsDead      *prometheus.CounterVec
	StreamLag       *prometheus.GaugeVec
	Anonymized      prometheus.Counter
	IngestDuration  prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EventsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idrelay_events_ingested_total",
			Help: "Webhook events accepted and appended to the durable log.",
		}, []string{"source"}),
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idrelay_events_processed_total",
			Help: "Consumer outcomes per event type: success, skipped, transient, permanent.",
		}, []string{"type", "result"}),
		EventsDead: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idrelay_events_dead_lettered_total",
			Help: "Entries moved to the dead-letter stream.",
		}, []string{"stream"}),
		StreamLag: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "idrelay_stream_lag",
			Help: "Unacknowledged entries per stream, sampled by the health surface.",
		}, []string{"stream"}),
		Anonymized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "idrelay_anonymized_entities_total",
			Help: "Entities irreversibly anonymized by the scheduler.",
		}),
		IngestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "idrelay_ingest_duration_seconds",
			Help:    "Webhook ingestion latency from receipt to durable append.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncIngested(source string) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(source).Inc()
}

func (m *Metrics) IncProcessed(eventType, result string) {
	if m == nil {
		return
	}
	m.EventsProcessed.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) IncDeadLettered(stream string) {
	if m == nil {
		return
	}
	m.EventsDead.WithLabelValues(stream).Inc()
}

func (m *Metrics) SetStreamLag(stream string, lag float64) {
	if m == nil {
		return
	}
	m.StreamLag.WithLabelValues(stream).Set(lag)
}

func (m *Metrics) IncAnonymized() {
	if m == nil {
		return
	}
	m.Anonymized.Inc()
}

func (m *Metrics) ObserveIngestDuration(seconds float64) {
	if m == nil {
		return
	}
	m.IngestDuration.Observe(seconds)
}
