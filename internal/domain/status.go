package domain

// OrderStatus is the lifecycle status of an order as seen by dispatch.
type OrderStatus string

// List of order statuses dispatch reads or writes.
const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusReadyForPickup  OrderStatus = "ready_for_pickup"
	OrderStatusCourierAssigned OrderStatus = "courier_assigned"
	OrderStatusNoCourier       OrderStatus = "no_courier_available"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusCanceled        OrderStatus = "canceled"
)

var allowedOrderStatuses = [...]OrderStatus{
	OrderStatusPending,
	OrderStatusReadyForPickup,
	OrderStatusCourierAssigned,
	OrderStatusNoCourier,
	OrderStatusDelivered,
	OrderStatusCanceled,
}

// Valid checks if the OrderStatus is known.
func (s OrderStatus) Valid() bool {
	for _, v := range allowedOrderStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Dispatchable reports whether an order in this status may be offered to couriers.
func (s OrderStatus) Dispatchable() bool {
	return s == OrderStatusReadyForPickup
}

// HoldsCourier reports whether the assigned courier is still working on the order.
// A courier holding such an order is busy.
func (s OrderStatus) HoldsCourier() bool {
	return s == OrderStatusCourierAssigned
}

// HoldsCourierStatuses returns the statuses for which HoldsCourier is true.
func HoldsCourierStatuses() []string {
	out := make([]string, 0, 1)
	for _, s := range allowedOrderStatuses {
		if s.HoldsCourier() {
			out = append(out, string(s))
		}
	}
	return out
}
