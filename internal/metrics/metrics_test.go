package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/metrics"
)

func TestDispatch_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	d := metrics.NewDispatch()
	reg.MustRegister(d.Collectors()...)

	d.OfferSent(3)
	d.Outcome(domain.ResolutionExhausted, domain.ReasonAllDeclined)
	d.Outcome(domain.ResolutionExhausted, domain.ReasonAllDeclined)
	d.AcceptConflict()
	d.UnauthorizedResponse()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	require.ElementsMatch(t, []string{
		"dispatch_offers_sent_total",
		"dispatch_outcomes_total",
		"dispatch_accept_conflicts_total",
		"dispatch_unauthorized_responses_total",
	}, names)
}

func TestNewCounters(t *testing.T) {
	t.Parallel()

	c := metrics.NewDispatchRetriesTotal()
	c.Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(c))

	rl := metrics.NewRateLimitExceededTotal()
	require.Equal(t, float64(0), testutil.ToFloat64(rl))
}
