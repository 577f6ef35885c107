package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine's prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessionsStarted   *prometheus.CounterVec
	sessionsCompleted *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	judgeRuns         *prometheus.CounterVec
	judgeDuration     prometheus.Histogram
	staleResults      prometheus.Counter
	lockdownActive    prometheus.Gauge
	violations        *prometheus.CounterVec
	persistFailures   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_sessions_started_total",
			Help: "Assessment sessions that entered the active state",
		}, []string{"type"}),
		sessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_sessions_completed_total",
			Help: "Assessment sessions that produced a submission",
		}, []string{"type", "reason"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proctor_sessions_active",
			Help: "Sessions currently in the active state",
		}),
		judgeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_judge_runs_total",
			Help: "Judge invocations by outcome",
		}, []string{"outcome"}),
		judgeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "proctor_judge_duration_seconds",
			Help:    "Duration of judge invocations",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
		}),
		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_judge_stale_results_total",
			Help: "Judge results discarded because a newer request superseded them",
		}),
		lockdownActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proctor_lockdown_active",
			Help: "Installed lockdown surfaces",
		}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_lockdown_violations_total",
			Help: "Blocked actions reported by lockdown surfaces",
		}, []string{"kind"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_persist_failures_total",
			Help: "Non-fatal persistence failures",
		}, []string{"store"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.sessionsStarted, m.sessionsCompleted, m.activeSessions,
			m.judgeRuns, m.judgeDuration, m.staleResults,
			m.lockdownActive, m.violations, m.persistFailures,
		)
	}
	return m
}

func (m *Metrics) SessionStarted(kind string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(kind).Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) SessionCompleted(kind, reason string) {
	if m == nil {
		return
	}
	m.sessionsCompleted.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) JudgeRun(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.judgeRuns.WithLabelValues(outcome).Inc()
	m.judgeDuration.Observe(took.Seconds())
}

func (m *Metrics) StaleJudgeResult() {
	if m == nil {
		return
	}
	m.staleResults.Inc()
}

func (m *Metrics) LockdownEnabled() {
	if m == nil {
		return
	}
	m.lockdownActive.Inc()
}

func (m *Metrics) LockdownDisabled() {
	if m == nil {
		return
	}
	m.lockdownActive.Dec()
}

func (m *Metrics) Violation(kind string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(kind).Inc()
}

func (m *Metrics) PersistFailed(store string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(store).Inc()
}
