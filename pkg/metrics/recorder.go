// Package metrics provides Prometheus recording and querying for coaching
// sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder publishes the coach's operational metrics.
type Recorder struct {
	turnsTotal         *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	guardOverrides     *prometheus.CounterVec
	backwardRejected   prometheus.Counter
	completionDuration *prometheus.HistogramVec
	stageSaturation    *prometheus.GaugeVec
	sessionsArchived   prometheus.Counter
}

// NewRecorder registers the coach metrics with reg. Pass
// prometheus.DefaultRegisterer outside of tests.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_turns_total",
				Help: "User turns processed, by stage and language",
			},
			[]string{"stage", "language"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_transitions_total",
				Help: "Guard decisions, by kind and reason",
			},
			[]string{"kind", "reason"},
		),
		guardOverrides: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_guard_overrides_total",
				Help: "Turns where the guard overrode the model's proposed stage",
			},
			[]string{"stage"},
		),
		backwardRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "coach_backward_proposals_rejected_total",
				Help: "Backward stage proposals rejected by the guard",
			},
		),
		completionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coach_completion_duration_seconds",
				Help:    "Duration of model completions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		stageSaturation: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coach_stage_saturation",
				Help: "Current stage saturation per session",
			},
			[]string{"session", "stage"},
		),
		sessionsArchived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "coach_sessions_archived_total",
				Help: "Sessions that reached commitment and were archived",
			},
		),
	}
}

// ObserveTurn records one processed user turn.
func (r *Recorder) ObserveTurn(stage, language string) {
	r.turnsTotal.WithLabelValues(stage, language).Inc()
}

// ObserveTransition records a guard decision.
func (r *Recorder) ObserveTransition(kind, reason string, overrode bool, stage string) {
	r.transitionsTotal.WithLabelValues(kind, reason).Inc()
	if overrode {
		r.guardOverrides.WithLabelValues(stage).Inc()
	}
	if reason == "backward_rejected" {
		r.backwardRejected.Inc()
	}
}

// ObserveCompletion records a model completion's duration.
func (r *Recorder) ObserveCompletion(model string, d time.Duration) {
	r.completionDuration.WithLabelValues(model).Observe(d.Seconds())
}

// SetSaturation publishes a session's current stage saturation.
func (r *Recorder) SetSaturation(session, stage string, value float64) {
	r.stageSaturation.WithLabelValues(session, stage).Set(value)
}

// ObserveArchive records a completed session.
func (r *Recorder) ObserveArchive() {
	r.sessionsArchived.Inc()
}
