package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counters is the narrow counting interface injected into pipeline
// components. Production code is backed by Prometheus; tests count with
// an in-memory double.
type Counters interface {
	Inc(name string)
	Add(name string, delta float64)
}

var (
	// Counter para eventos por componente e resultado
	pipelineEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_pipeline_events_total",
			Help: "Total number of pipeline events by counter name",
		},
		[]string{"counter"},
	)

	// Histograma para tempo de resposta HTTP
	ResponseTimeSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atlas_http_response_time_seconds",
			Help:    "HTTP response time by path and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// Gauge para profundidade da fila de aceitação
	AcceptQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atlas_ingest_accept_queue_depth",
		Help: "Current number of events waiting in the accept queue",
	})

	// Gauge para batches pendentes em disco
	PendingBatchFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atlas_ingest_pending_batch_files",
		Help: "Number of batch files on disk awaiting delivery",
	})

	// Histograma para duração de entrega de batch ao sink
	SinkDeliverySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlas_ingest_sink_delivery_seconds",
		Help:    "Time taken to deliver a batch to the downstream sink",
		Buckets: prometheus.DefBuckets,
	})
)

// PromCounters implements Counters on top of the shared Prometheus
// counter vector.
type PromCounters struct{}

// NewPromCounters returns the Prometheus-backed Counters implementation.
func NewPromCounters() *PromCounters {
	return &PromCounters{}
}

// Inc increments the named counter by one.
func (c *PromCounters) Inc(name string) {
	pipelineEventsTotal.WithLabelValues(name).Inc()
}

// Add increments the named counter by delta.
func (c *PromCounters) Add(name string, delta float64) {
	pipelineEventsTotal.WithLabelValues(name).Add(delta)
}

// NopCounters discards all counts. Useful where metrics are not wired.
type NopCounters struct{}

func (NopCounters) Inc(string)          {}
func (NopCounters) Add(string, float64) {}

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records response time for all HTTP endpoints.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		duration := time.Since(start)
		ResponseTimeSeconds.WithLabelValues(r.URL.Path, r.Method).Observe(duration.Seconds())
	})
}
