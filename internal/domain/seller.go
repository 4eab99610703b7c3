package domain

// Seller is a pickup location. Location is nil when the seller has no coordinates.
type Seller struct {
	ID              int64
	Location        *Point
	ServiceRadiusKm float64
}

// Locatable reports whether the seller can take part in distance matching.
func (s Seller) Locatable() bool {
	return s.Location != nil && s.ServiceRadiusKm > 0
}
