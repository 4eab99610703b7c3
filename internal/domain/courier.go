package domain

// Courier represents a delivery courier as seen by dispatch.
type Courier struct {
	ID       int64
	Location *Point
	Online   bool
	Active   bool
	// Busy is derived: the courier holds an order whose status HoldsCourier.
	Busy bool
}

// Eligible reports whether the courier may receive a new job offer.
func (c Courier) Eligible() bool {
	return c.Online && c.Active && !c.Busy
}

// Candidate is a courier ranked for an order.
type Candidate struct {
	CourierID  int64   `json:"courier_id"`
	DistanceKm float64 `json:"distance_km"`
	// Located is false for fallback candidates whose distance is unknown.
	Located bool `json:"located"`
}
