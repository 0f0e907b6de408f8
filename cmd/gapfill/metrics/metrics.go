// Package metrics provides Prometheus instrumentation for gapfill.
//
// Metrics exposed:
//   - gapfill_adapter_collect_seconds: Histogram of data source load duration
//   - gapfill_stage_seconds: Histogram of pipeline stage duration by stage
//   - gapfill_channel_seconds: Histogram of whole-channel fill duration
//   - gapfill_qubo_variables / gapfill_qubo_terms: Histograms of model size
//   - gapfill_best_energy: Gauge of the last best energy per channel
//   - gapfill_channels_filled_total: Counter of filled channels by solver
//   - gapfill_degenerate_slots_total: Counter of slots repaired after solving
//   - gapfill_cache_requests_total: Counter of API cache lookups by result
//   - gapfill_errors_total: Counter of errors by component and reason
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HatiCode/gapfill/pkg/errs"
	"github.com/HatiCode/gapfill/pkg/gapfill"
)

// Metrics holds every gapfill metric. It implements gapfill.Observer.
type Metrics struct {
	AdapterCollectSeconds *prometheus.HistogramVec
	StageSeconds          *prometheus.HistogramVec
	ChannelSeconds        prometheus.Histogram
	QUBOVariables         prometheus.Histogram
	QUBOTerms             prometheus.Histogram
	BestEnergy            *prometheus.GaugeVec
	ChannelsFilled        *prometheus.CounterVec
	DegenerateSlots       prometheus.Counter
	CacheRequests         *prometheus.CounterVec
	ErrorsTotal           *prometheus.CounterVec
}

var _ gapfill.Observer = (*Metrics)(nil)

// New creates the metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		AdapterCollectSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gapfill_adapter_collect_seconds",
			Help:    "Time spent loading series from the data source",
			Buckets: prometheus.DefBuckets,
		}, []string{"adapter"}),

		StageSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gapfill_stage_seconds",
			Help:    "Time spent per pipeline stage and channel",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"stage"}),

		ChannelSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gapfill_channel_seconds",
			Help:    "Time spent filling one channel",
			Buckets: prometheus.DefBuckets,
		}),

		QUBOVariables: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gapfill_qubo_variables",
			Help:    "Binary variables per channel model",
			Buckets: prometheus.ExponentialBuckets(4, 4, 8),
		}),

		QUBOTerms: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gapfill_qubo_terms",
			Help:    "Nonzero coefficients per channel model",
			Buckets: prometheus.ExponentialBuckets(16, 4, 8),
		}),

		BestEnergy: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gapfill_best_energy",
			Help: "Energy of the last solution per channel",
		}, []string{"channel"}),

		ChannelsFilled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gapfill_channels_filled_total",
			Help: "Channels filled by solver",
		}, []string{"solver"}),

		DegenerateSlots: f.NewCounter(prometheus.CounterOpts{
			Name: "gapfill_degenerate_slots_total",
			Help: "Slots the solver left without exactly one candidate",
		}),

		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gapfill_cache_requests_total",
			Help: "Fill API cache lookups by result",
		}, []string{"result"}),

		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gapfill_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// RecordCollect records the time spent loading the series.
func (m *Metrics) RecordCollect(adapter string, d time.Duration) {
	m.AdapterCollectSeconds.WithLabelValues(adapter).Observe(d.Seconds())
}

// RecordCache counts a cache hit or miss.
func (m *Metrics) RecordCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// ObserveStage implements gapfill.Observer.
func (m *Metrics) ObserveStage(stage gapfill.Stage, d time.Duration) {
	m.StageSeconds.WithLabelValues(string(stage)).Observe(d.Seconds())
}

// ObserveChannel implements gapfill.Observer.
func (m *Metrics) ObserveChannel(r gapfill.ChannelResult) {
	m.ChannelSeconds.Observe(r.Duration.Seconds())
	m.QUBOVariables.Observe(float64(r.Variables))
	m.QUBOTerms.Observe(float64(r.Terms))
	m.BestEnergy.WithLabelValues(r.Channel).Set(r.Energy)
	m.ChannelsFilled.WithLabelValues(r.Solver).Inc()
	m.DegenerateSlots.Add(float64(len(r.Repaired)))
}

// ObserveError implements gapfill.Observer.
func (m *Metrics) ObserveError(stage gapfill.Stage, err error) {
	m.RecordError(string(stage), Reason(err))
}

// Reason classifies an error for the reason label.
func Reason(err error) string {
	switch {
	case errs.IsData(err):
		return "data"
	case errs.IsConfig(err):
		return "config"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "failed"
	}
}
