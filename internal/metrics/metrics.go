package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the decision engine.
type Metrics struct {
	Decisions            *prometheus.CounterVec
	ChallengesIssued     prometheus.Counter
	ChallengeResolutions *prometheus.CounterVec
	EvaluateDuration     prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_decisions_total",
			Help: "Login evaluations by verdict and reason",
		}, []string{"verdict", "reason"}),
		ChallengesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_challenges_issued_total",
			Help: "Total number of step-up challenges issued",
		}),
		ChallengeResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_challenge_resolutions_total",
			Help: "Challenge resolve attempts by outcome",
		}, []string{"outcome"}),
		EvaluateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_evaluate_duration_seconds",
			Help:    "Duration of login evaluations (login critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementDecision(verdict, reason string) {
	m.Decisions.WithLabelValues(verdict, reason).Inc()
}

func (m *Metrics) IncrementChallengeIssued() {
	m.ChallengesIssued.Inc()
}

func (m *Metrics) IncrementChallengeResolution(outcome string) {
	m.ChallengeResolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveEvaluate(start time.Time) {
	m.EvaluateDuration.Observe(time.Since(start).Seconds())
}
