// Package metrics records pipeline runs with Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/contactkeval/event-vol/internal/volatility"
)

// Run outcome labels.
const (
	StatusOK          = "ok"
	StatusInput       = "input_error"
	StatusFitting     = "fitting_error"
	StatusConfig      = "config_error"
	StatusUnavailable = "data_error"
)

// Recorder holds the run metrics on its own registry.
type Recorder struct {
	registry       *prometheus.Registry
	runsTotal      *prometheus.CounterVec
	fitIterations  prometheus.Histogram
	averageEventIV *prometheus.GaugeVec
	runDuration    prometheus.Histogram
}

// New creates a recorder with a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_vol_runs_total",
				Help: "Total number of decomposition runs",
			},
			[]string{"policy", "status"},
		),
		fitIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "event_vol_fit_iterations",
				Help:    "Solver iterations used by successful baseline fits",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
		),
		averageEventIV: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "event_vol_average_event_iv",
				Help: "Average positive event IV of the last run per underlying",
			},
			[]string{"underlying"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "event_vol_run_duration_seconds",
				Help:    "Duration of decomposition runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// Status maps a run error to its outcome label.
func Status(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, volatility.ErrConfiguration):
		return StatusConfig
	case errors.Is(err, volatility.ErrFitting):
		return StatusFitting
	case errors.Is(err, volatility.ErrInput):
		return StatusInput
	}
	return StatusUnavailable
}

// RecordRun records one run outcome. res may be nil when err is set.
func (r *Recorder) RecordRun(policy volatility.Policy, res *volatility.Result, err error, elapsed time.Duration) {
	if policy == "" {
		policy = volatility.PolicyVariance
	}
	r.runsTotal.WithLabelValues(string(policy), Status(err)).Inc()
	r.runDuration.Observe(elapsed.Seconds())
	if err != nil || res == nil {
		return
	}
	r.fitIterations.Observe(float64(res.Fit.Iterations))
	r.averageEventIV.WithLabelValues(res.Underlying).Set(res.AverageEventIV)
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry for the node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
