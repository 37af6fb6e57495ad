package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for graded submissions.
const (
	OutcomeGraded = "graded"
	OutcomeFailed = "failed"
)

// Recorder holds the grading collectors. A nil *Recorder is valid and records nothing.
type Recorder struct {
	submissions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	ranks       *prometheus.CounterVec
	conflicts   prometheus.Counter
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grading_submissions_total",
				Help: "Submissions processed by the grading engine",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grading_operation_duration_seconds",
				Help:    "Duration of grading operations",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15},
			},
			[]string{"operation"},
		),
		ranks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grading_rank_recomputes_total",
				Help: "Leaderboard scopes re-ranked",
			},
			[]string{"scope"},
		),
		conflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "grading_scope_conflicts_total",
				Help: "Grading runs rejected because the scope was busy",
			},
		),
	}
	reg.MustRegister(r.submissions, r.duration, r.ranks, r.conflicts)
	return r
}

// Submission counts one graded or failed submission.
func (r *Recorder) Submission(outcome string) {
	if r == nil {
		return
	}
	r.submissions.WithLabelValues(outcome).Inc()
}

// Observe records how long an operation took since start.
func (r *Recorder) Observe(operation string, start time.Time) {
	if r == nil {
		return
	}
	r.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Ranked counts a re-ranked scope, labelled "group" or "global".
func (r *Recorder) Ranked(global bool) {
	if r == nil {
		return
	}
	scope := "group"
	if global {
		scope = "global"
	}
	r.ranks.WithLabelValues(scope).Inc()
}

// Conflict counts a run rejected by a busy scope lock.
func (r *Recorder) Conflict() {
	if r == nil {
		return
	}
	r.conflicts.Inc()
}
