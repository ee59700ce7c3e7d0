package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ssargent/ringrelay/pkg/ringbuf"
)

// Metrics holds all Prometheus metrics of a relay process. Each instance owns
// its registry, so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Relay flow metrics
	recordsTotal    *prometheus.CounterVec
	bytesTotal      *prometheus.CounterVec
	droppedTotal    *prometheus.CounterVec
	reconnectsTotal *prometheus.CounterVec
	terminatesTotal *prometheus.CounterVec
	relayState      *prometheus.GaugeVec

	// Ring buffer occupancy
	ringUsedWords     *prometheus.GaugeVec
	ringCapacityWords *prometheus.GaugeVec
	ringRecords       *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringrelay_http_requests_total",
				Help: "Total number of HTTP requests to the monitoring server",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ringrelay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		recordsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringrelay_records_total",
				Help: "Records moved by a relay",
			},
			[]string{"relay", "type"},
		),
		bytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringrelay_bytes_total",
				Help: "Record bytes moved by a relay",
			},
			[]string{"relay"},
		),
		droppedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringrelay_dropped_records_total",
				Help: "Records lost by a relay",
			},
			[]string{"relay", "reason"},
		),
		reconnectsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringrelay_reconnects_total",
				Help: "Reconnection attempts by a relay",
			},
			[]string{"relay", "status"},
		),
		terminatesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringrelay_terminates_total",
				Help: "TERMINATE records forwarded by a relay",
			},
			[]string{"relay"},
		),
		relayState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ringrelay_relay_state",
				Help: "Relay state (0 running, 1 reconnecting, 2 stopped)",
			},
			[]string{"relay"},
		),

		ringUsedWords: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ringrelay_ring_used_words",
				Help: "Occupied words in a ring buffer",
			},
			[]string{"ring"},
		),
		ringCapacityWords: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ringrelay_ring_capacity_words",
				Help: "Capacity of a ring buffer in words",
			},
			[]string{"ring"},
		),
		ringRecords: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ringrelay_ring_records",
				Help: "Records queued in a ring buffer",
			},
			[]string{"ring"},
		),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRecord counts one relayed record
func (m *Metrics) RecordRecord(relay, recordType string, size int) {
	m.recordsTotal.WithLabelValues(relay, recordType).Inc()
	m.bytesTotal.WithLabelValues(relay).Add(float64(size))
}

// RecordDrop counts a lost record
func (m *Metrics) RecordDrop(relay, reason string) {
	m.droppedTotal.WithLabelValues(relay, reason).Inc()
}

// RecordReconnect counts a reconnection attempt
func (m *Metrics) RecordReconnect(relay string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.reconnectsTotal.WithLabelValues(relay, status).Inc()
}

// RecordTerminate counts a forwarded TERMINATE
func (m *Metrics) RecordTerminate(relay string) {
	m.terminatesTotal.WithLabelValues(relay).Inc()
}

// SetRelayState publishes the numeric relay state
func (m *Metrics) SetRelayState(relay string, state int) {
	m.relayState.WithLabelValues(relay).Set(float64(state))
}

// UpdateRing publishes ring buffer occupancy
func (m *Metrics) UpdateRing(stats ringbuf.Stats) {
	m.ringUsedWords.WithLabelValues(stats.Name).Set(float64(stats.UsedWords))
	m.ringCapacityWords.WithLabelValues(stats.Name).Set(float64(stats.CapacityWords))
	m.ringRecords.WithLabelValues(stats.Name).Set(float64(stats.Records))
}

// InstrumentHandler instruments an HTTP handler with metrics
func (m *Metrics) InstrumentHandler(method, endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(rw, r)
		m.RecordHTTPRequest(method, endpoint, rw.statusCode, time.Since(start))
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
