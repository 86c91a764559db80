// Package metrics exports chunk store activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AnishMulay/sandreplay/internal/chunk_store"
)

// StoreMetrics implements chunk_store.Observer.
type StoreMetrics struct {
	registry      *prometheus.Registry
	chunksAdded   *prometheus.CounterVec
	chunksEvicted *prometheus.CounterVec
	chunksHeld    *prometheus.GaugeVec
	storeErrors   *prometheus.CounterVec
	lookups       *prometheus.CounterVec
}

// New registers the store collectors on a fresh registry.
func New() *StoreMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &StoreMetrics{
		registry: reg,
		chunksAdded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandreplay_chunks_added_total",
				Help: "Chunks accepted by the store",
			},
			[]string{"backend"},
		),
		chunksEvicted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandreplay_chunks_evicted_total",
				Help: "Chunks removed by retention",
			},
			[]string{"backend"},
		),
		chunksHeld: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sandreplay_chunks_retained",
				Help: "Chunks currently retained",
			},
			[]string{"backend"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandreplay_store_errors_total",
				Help: "Store operation failures by kind",
			},
			[]string{"backend", "kind"},
		),
		lookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandreplay_lookups_total",
				Help: "Floor lookups by result (hit, miss, error)",
			},
			[]string{"backend", "result"},
		),
	}
}

func (m *StoreMetrics) ChunkAdded(backend string) {
	m.chunksAdded.WithLabelValues(backend).Inc()
}

func (m *StoreMetrics) ChunksEvicted(backend string, n int) {
	m.chunksEvicted.WithLabelValues(backend).Add(float64(n))
}

func (m *StoreMetrics) Retained(backend string, n int) {
	m.chunksHeld.WithLabelValues(backend).Set(float64(n))
}

func (m *StoreMetrics) StoreError(backend string, kind string) {
	m.storeErrors.WithLabelValues(backend, kind).Inc()
}

func (m *StoreMetrics) Lookup(backend string, result string) {
	m.lookups.WithLabelValues(backend, result).Inc()
}

func (m *StoreMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *StoreMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ chunk_store.Observer = (*StoreMetrics)(nil)
