package guard

import "github.com/prometheus/client_golang/prometheus"

var (
	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockd_rate_limited_total",
			Help: "Calls rejected by the rate limiter, by action.",
		},
		[]string{"action"},
	)

	// outcome: executed, replayed, in_flight, reclaimed, failed.
	idemOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockd_idempotency_outcomes_total",
			Help: "Idempotent executions by action and outcome.",
		},
		[]string{"action", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(rateLimited, idemOutcomes)
}
