package cytoqc

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports run statistics to Prometheus. It implements Observer.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	removedPercent prometheus.Histogram
	stageDuration  *prometheus.HistogramVec
	flaggedWindows *prometheus.CounterVec
	stageErrors    *prometheus.CounterVec
}

// NewMetrics registers the cytoqc collectors on a fresh registry, together
// with the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cytoqc_runs_total",
				Help: "Total number of QC runs by outcome",
			},
			[]string{"outcome"},
		),
		removedPercent: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cytoqc_removed_percent",
			Help:    "Share of events removed per successful run",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 50, 70, 90, 100},
		}),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cytoqc_stage_duration_seconds",
				Help:    "Duration of pipeline stages",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"stage"},
		),
		flaggedWindows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cytoqc_flagged_windows_total",
				Help: "Windows flagged as bad, by stage",
			},
			[]string{"stage"},
		),
		stageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cytoqc_stage_errors_total",
				Help: "Stages that failed or were skipped",
			},
			[]string{"stage"},
		),
	}
}

// ObserveStage implements Observer.
func (m *Metrics) ObserveStage(ev StageEvent) {
	m.stageDuration.WithLabelValues(ev.Stage).Observe(ev.Duration.Seconds())
	if ev.Err != nil {
		m.stageErrors.WithLabelValues(ev.Stage).Inc()
	}
	if ev.Stage == StageRun {
		outcome := "ok"
		if ev.Err != nil {
			outcome = "error"
		}
		m.runsTotal.WithLabelValues(outcome).Inc()
		return
	}
	if ev.Flagged > 0 {
		m.flaggedWindows.WithLabelValues(ev.Stage).Add(float64(ev.Flagged))
	}
}

// ObserveResult records the removal share of a finished run.
func (m *Metrics) ObserveResult(res *Result) {
	m.removedPercent.Observe(res.PercentageRemoved)
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
