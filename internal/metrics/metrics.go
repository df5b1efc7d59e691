// Package metrics exports logger activity as Prometheus metrics.
//
// Collectors are registered on a private registry rather than the global
// one, so several loggers (or tests) can coexist in one process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpalmerr/pulselog/internal/poller"
)

const namespace = "pulselog"

// Metrics holds the logger's collectors.
type Metrics struct {
	registry *prometheus.Registry

	rows           prometheus.Counter
	resamples      prometheus.Counter
	tickDuration   prometheus.Histogram
	rowWidth       prometheus.Gauge
	lastRow        prometheus.Gauge
	sinkErrors     prometheus.Counter
	samples        *prometheus.CounterVec
	failures       *prometheus.CounterVec
	sampleDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry and records the fixed row
// width.
func New(width int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows emitted by the scheduler.",
		}),
		resamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_resamples_total",
			Help:      "Ticks on which the slow sources were resampled.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent sampling all sources in one tick.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		rowWidth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "row_width",
			Help:      "Number of columns per row, timestamp included.",
		}),
		lastRow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_row_timestamp_seconds",
			Help:      "Unix time of the most recent row.",
		}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_write_errors_total",
			Help:      "Rows that could not be written to the log file.",
		}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Samples taken, by source.",
		}, []string{"source"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_failures_total",
			Help:      "Samples reported as sentinel rows, by source and reason.",
		}, []string{"source", "reason"}),
		sampleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_duration_seconds",
			Help:      "Time spent inside a single source's Sample call.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"source"}),
	}

	m.registry.MustRegister(
		m.rows, m.resamples, m.tickDuration, m.rowWidth, m.lastRow,
		m.sinkErrors, m.samples, m.failures, m.sampleDuration,
	)
	m.rowWidth.Set(float64(width))
	return m
}

// ObserveRow records one emitted row.
func (m *Metrics) ObserveRow(row poller.Row) {
	m.rows.Inc()
	if row.Resampled {
		m.resamples.Inc()
	}
	m.tickDuration.Observe(row.Duration.Seconds())
	m.lastRow.Set(float64(row.Time.UnixNano()) / 1e9)

	for _, s := range row.Samples {
		m.samples.WithLabelValues(s.Source).Inc()
		m.sampleDuration.WithLabelValues(s.Source).Observe(s.Duration.Seconds())
		switch {
		case s.Panicked:
			m.failures.WithLabelValues(s.Source, "panic").Inc()
		case s.Failed:
			m.failures.WithLabelValues(s.Source, "sentinel").Inc()
		}
	}
}

// SinkError records a failed log file write.
func (m *Metrics) SinkError() {
	m.sinkErrors.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, e.g. to add process collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
