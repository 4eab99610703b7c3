package dispatch

import (
	"context"
	"fmt"
	"sort"

	"marketplace-dispatch/internal/domain"
)

// Matcher ranks eligible couriers by distance to the order's pickup locations.
type Matcher struct {
	sellers SellerStore
}

// NewMatcher creates a Matcher.
func NewMatcher(sellers SellerStore) *Matcher {
	return &Matcher{sellers: sellers}
}

// Rank returns couriers within the service radius of any seller, nearest first,
// keeping each courier's minimum distance across sellers.
//
// When no seller has a usable location, or nobody is in range, every eligible
// courier is returned unranked so that missing location data never stalls dispatch.
func (m *Matcher) Rank(ctx context.Context, sellerIDs []int64, eligible []domain.Courier) ([]domain.Candidate, error) {
	if len(eligible) == 0 {
		return []domain.Candidate{}, nil
	}

	sellers, err := m.sellers.Locations(ctx, sellerIDs)
	if err != nil {
		return nil, fmt.Errorf("seller locations: %w", err)
	}

	best := make(map[int64]float64, len(eligible))
	for _, s := range sellers {
		if !s.Locatable() {
			continue
		}
		for _, c := range eligible {
			if c.Location == nil {
				continue
			}
			d := s.Location.DistanceKm(*c.Location)
			if d > s.ServiceRadiusKm {
				continue
			}
			if prev, ok := best[c.ID]; !ok || d < prev {
				best[c.ID] = d
			}
		}
	}

	if len(best) == 0 {
		return fallback(eligible), nil
	}

	out := make([]domain.Candidate, 0, len(best))
	for id, d := range best {
		out = append(out, domain.Candidate{CourierID: id, DistanceKm: d, Located: true})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm == out[j].DistanceKm {
			return out[i].CourierID < out[j].CourierID
		}
		return out[i].DistanceKm < out[j].DistanceKm
	})
	return out, nil
}

func fallback(eligible []domain.Courier) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(eligible))
	seen := make(map[int64]struct{}, len(eligible))
	for _, c := range eligible {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, domain.Candidate{CourierID: c.ID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourierID < out[j].CourierID })
	return out
}
