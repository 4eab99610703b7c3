package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"marketplace-dispatch/internal/domain"
)

// NewRateLimitExceededTotal returns a Prometheus counter for courier responses rejected by the rate limiter
func NewRateLimitExceededTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_rate_limit_exceeded_total",
		Help: "Total number of courier responses rejected due to rate limiting",
	})
}

// NewDispatchRetriesTotal returns a Prometheus counter for the number of retried dispatch attempts
func NewDispatchRetriesTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_retries_total",
		Help: "Total number of retry attempts performed for dispatch",
	})
}

// Dispatch groups the race engine counters.
type Dispatch struct {
	offersSent   prometheus.Counter
	outcomes     *prometheus.CounterVec
	conflicts    prometheus.Counter
	unauthorized prometheus.Counter
}

// NewDispatch creates the race engine counters. Register them with Collectors.
func NewDispatch() *Dispatch {
	return &Dispatch{
		offersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_offers_sent_total",
			Help: "Total number of job offers delivered to courier sessions",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_outcomes_total",
			Help: "Total number of resolved dispatch rounds",
		}, []string{"resolution", "reason"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_accept_conflicts_total",
			Help: "Total number of acceptances that lost the race",
		}),
		unauthorized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_unauthorized_responses_total",
			Help: "Total number of responses from couriers that were not offered the order",
		}),
	}
}

// Collectors returns every counter for registration.
func (d *Dispatch) Collectors() []prometheus.Collector {
	return []prometheus.Collector{d.offersSent, d.outcomes, d.conflicts, d.unauthorized}
}

// OfferSent counts delivered offers.
func (d *Dispatch) OfferSent(n int) {
	d.offersSent.Add(float64(n))
}

// Outcome counts a resolved round.
func (d *Dispatch) Outcome(resolution domain.Resolution, reason domain.OutcomeReason) {
	d.outcomes.WithLabelValues(string(resolution), string(reason)).Inc()
}

// AcceptConflict counts an acceptance that lost the race.
func (d *Dispatch) AcceptConflict() {
	d.conflicts.Inc()
}

// UnauthorizedResponse counts a response from a courier that was never offered the order.
func (d *Dispatch) UnauthorizedResponse() {
	d.unauthorized.Inc()
}
