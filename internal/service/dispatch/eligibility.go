package dispatch

import (
	"context"
	"fmt"

	"marketplace-dispatch/internal/domain"
)

// Eligibility selects couriers that may receive a new offer.
type Eligibility struct {
	couriers CourierDirectory
}

// NewEligibility creates an Eligibility filter.
func NewEligibility(couriers CourierDirectory) *Eligibility {
	return &Eligibility{couriers: couriers}
}

// Eligible returns online, active couriers without an unfinished assignment.
// A read error aborts the attempt; retrying is up to the caller.
func (e *Eligibility) Eligible(ctx context.Context) ([]domain.Courier, error) {
	list, err := e.couriers.ListEligible(ctx)
	if err != nil {
		return nil, fmt.Errorf("eligible couriers: %w", err)
	}

	out := make([]domain.Courier, 0, len(list))
	for _, c := range list {
		if c.Eligible() {
			out = append(out, c)
		}
	}
	return out, nil
}
