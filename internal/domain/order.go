package domain

import "time"

// Item is a single line of a seller grouping.
type Item struct {
	ProductID string
	Quantity  int
}

// SellerGroup groups the items of an order picked up from one seller.
type SellerGroup struct {
	SellerID int64
	Items    []Item
}

// Order is the durable order record as far as dispatch is concerned.
type Order struct {
	ID                     string
	Sellers                []SellerGroup
	Status                 OrderStatus
	AssignedCourierID      *int64
	AssignedAt             *time.Time
	DeliveryAddressSummary string
	TotalCents             int64
	RejectionReason        string
	DeclinedCount          int
}

// Assigned reports whether a courier already owns the order.
func (o *Order) Assigned() bool {
	return o.AssignedCourierID != nil
}

// SellerIDs returns the distinct seller ids of the order in first-seen order.
func (o *Order) SellerIDs() []int64 {
	seen := make(map[int64]struct{}, len(o.Sellers))
	out := make([]int64, 0, len(o.Sellers))
	for _, g := range o.Sellers {
		if _, ok := seen[g.SellerID]; ok {
			continue
		}
		seen[g.SellerID] = struct{}{}
		out = append(out, g.SellerID)
	}
	return out
}

// Summary builds the payload shown to couriers in a job offer.
func (o *Order) Summary() OrderSummary {
	items := 0
	for _, g := range o.Sellers {
		for _, it := range g.Items {
			items += it.Quantity
		}
	}
	return OrderSummary{
		OrderID:                o.ID,
		SellerIDs:              o.SellerIDs(),
		ItemCount:              items,
		DeliveryAddressSummary: o.DeliveryAddressSummary,
		TotalCents:             o.TotalCents,
	}
}

// OrderSummary is the opaque order description sent with a job offer.
type OrderSummary struct {
	OrderID                string  `json:"order_id"`
	SellerIDs              []int64 `json:"seller_ids"`
	ItemCount              int     `json:"item_count"`
	DeliveryAddressSummary string  `json:"delivery_address_summary"`
	TotalCents             int64   `json:"total_cents"`
}
