// Package metrics exposes Prometheus collectors for drift checks and migration runs.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "tsdb_reconcile"

// Recorder wraps the collectors on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	DriftIssues     *prometheus.CounterVec
	Repairs         *prometheus.CounterVec
	PhaseDuration   *prometheus.HistogramVec
	MigrationRuns   *prometheus.CounterVec
	LastRunSuccess  prometheus.Gauge
	CurrentRevision prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		DriftIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_total",
			Help:      "Issues reported by consistency checks",
		}, []string{"category", "kind"}),
		Repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "Repair statements executed, by outcome",
		}, []string{"outcome"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "migration_phase_duration_seconds",
			Help:      "Duration of migration phases",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"phase", "status"}),
		MigrationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_runs_total",
			Help:      "Migration runs, by outcome",
		}, []string{"outcome"}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "migration_last_run_success",
			Help:      "1 if the last migration run succeeded, 0 otherwise",
		}),
		CurrentRevision: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "migration_revision",
			Help:      "Migration revision observed at the start of the last run",
		}),
	}

	reg.MustRegister(r.DriftIssues, r.Repairs, r.PhaseDuration, r.MigrationRuns, r.LastRunSuccess, r.CurrentRevision)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Issue(category, kind string) {
	if r == nil {
		return
	}
	r.DriftIssues.WithLabelValues(category, kind).Inc()
}

func (r *Recorder) Repair(ok bool) {
	if r == nil {
		return
	}
	outcome := "applied"
	if !ok {
		outcome = "failed"
	}
	r.Repairs.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Phase(phase string, d time.Duration, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	r.PhaseDuration.WithLabelValues(phase, status).Observe(d.Seconds())
}

// Run records the outcome of one migration run: success, failed, rolled_back, rollback_failed or dry_run.
func (r *Recorder) Run(outcome string, success bool) {
	if r == nil {
		return
	}
	r.MigrationRuns.WithLabelValues(outcome).Inc()
	if success {
		r.LastRunSuccess.Set(1)
	} else {
		r.LastRunSuccess.Set(0)
	}
}

func (r *Recorder) Revision(rev uint) {
	if r == nil {
		return
	}
	r.CurrentRevision.Set(float64(rev))
}

// Push sends the registry to a Prometheus Pushgateway under the given job name.
func (r *Recorder) Push(url, job string) error {
	if r == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.Registry()).Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
