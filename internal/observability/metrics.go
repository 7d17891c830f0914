package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ehf"

// Metrics holds the Prometheus collectors of a heatwave run.
type Metrics struct {
	StageDuration     *prometheus.HistogramVec // labels: stage
	CellsProcessed    prometheus.Counter
	HeatwavesDetected prometheus.Counter
	RecordsPublished  *prometheus.CounterVec // labels: sink
	PublishErrors     *prometheus.CounterVec // labels: sink
	RunActive         prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stage"}),
		CellsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_processed_total",
			Help:      "Grid cells for which EHF was computed.",
		}),
		HeatwavesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heatwaves_detected_total",
			Help:      "Heatwaves found over the full record of all cells.",
		}),
		RecordsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_published_total",
			Help:      "Seasonal metric records published by sink.",
		}, []string{"sink"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed publish batches by sink.",
		}, []string{"sink"}),
		RunActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_active",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
	}
}

// NewMetrics creates and registers all run metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.StageDuration,
		m.CellsProcessed,
		m.HeatwavesDetected,
		m.RecordsPublished,
		m.PublishErrors,
		m.RunActive,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid "already
// registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
