// Package telemetry records stage and unit outcomes as Prometheus metrics.
// A batch is a short-lived process, so metrics are exported to a node_exporter
// textfile at the end of the run instead of being scraped.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spachava753/sortbatch/internal/models"
)

// Stage outcomes.
const (
	OutcomeRun     = "run"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Recorder owns a registry and the collectors registered in it. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	reg *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stages        *prometheus.CounterVec
	units         *prometheus.CounterVec
	lastRun       prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		// Labels: stage, outcome (run, failed)
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sortbatch",
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Wall time of executed stages",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		}, []string{"stage", "outcome"}),
		// Labels: stage, outcome (run, skipped, failed)
		stages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sortbatch",
			Subsystem: "stage",
			Name:      "total",
			Help:      "Stages handled by outcome",
		}, []string{"stage", "outcome"}),
		// Labels: state (DONE, FAILED), error_type
		units: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sortbatch",
			Subsystem: "unit",
			Name:      "total",
			Help:      "Units finished by terminal state",
		}, []string{"state", "error_type"}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "sortbatch",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last batch finished",
		}),
	}
}

// Registry returns the registry the collectors live in.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// ObserveStage records one stage. Skipped stages have no duration.
func (r *Recorder) ObserveStage(stage, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.stages.WithLabelValues(stage, outcome).Inc()
	if outcome != OutcomeSkipped {
		r.stageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
	}
}

// ObserveUnit records a unit outcome.
func (r *Recorder) ObserveUnit(o *models.UnitOutcome) {
	if r == nil || o == nil {
		return
	}
	var errType string
	if o.Error != nil {
		errType = string(o.Error.Type)
	}
	r.units.WithLabelValues(string(o.State), errType).Inc()
}

// ObserveBatch records the end of a batch.
func (r *Recorder) ObserveBatch(res *models.BatchResult) {
	if r == nil || res == nil {
		return
	}
	r.lastRun.Set(float64(res.EndedAt.Unix()))
}

// WriteTextfile writes every collected metric to path in the text exposition
// format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
