// Package metrics holds the Prometheus collectors of the collaboration service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	documents    prometheus.Gauge
	connections  prometheus.Gauge
	loads        *prometheus.CounterVec
	loadDuration prometheus.Histogram
	seeds        *prometheus.CounterVec
	updates      prometheus.Counter
	storeFlushes *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		documents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docsync_documents_loaded",
			Help: "Documents currently held in memory",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docsync_connections_open",
			Help: "Open client connections",
		}),
		loads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_content_loads_total",
			Help: "Content loads by outcome",
		}, []string{"outcome"}),
		loadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docsync_content_load_duration_seconds",
			Help:    "Duration of document load events",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		seeds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_document_seeds_total",
			Help: "Document seeding transactions by mode",
		}, []string{"mode"}),
		updates: factory.NewCounter(prometheus.CounterOpts{
			Name: "docsync_updates_relayed_total",
			Help: "Client updates applied and relayed",
		}),
		storeFlushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_store_flushes_total",
			Help: "Settled-change store hook invocations by result",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) DocumentLoaded() {
	if m != nil {
		m.documents.Inc()
	}
}

func (m *Metrics) DocumentUnloaded() {
	if m != nil {
		m.documents.Dec()
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) ObserveLoad(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(outcome).Inc()
	m.loadDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveSeed(mode string) {
	if m != nil {
		m.seeds.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) UpdateRelayed() {
	if m != nil {
		m.updates.Inc()
	}
}

func (m *Metrics) StoreFlushed(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeFlushes.WithLabelValues(result).Inc()
}
