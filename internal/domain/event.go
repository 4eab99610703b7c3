package domain

import (
	"strconv"
	"time"
)

// EventType names a message produced by dispatch.
type EventType string

// List of produced event types.
const (
	EventJobOffer            EventType = "job_offer"
	EventOfferWithdrawn      EventType = "offer_withdrawn"
	EventAssignmentConfirmed EventType = "assignment_confirmed"
	EventDispatchExhausted   EventType = "dispatch_exhausted"
	EventDispatchOutcome     EventType = "dispatch_outcome"
)

// OpsTopic is the operational channel for dispatch outcomes.
const OpsTopic = "ops:dispatch"

// CourierTopic returns the topic of a courier's live session.
func CourierTopic(courierID int64) string {
	return "courier:" + strconv.FormatInt(courierID, 10)
}

// OrderTopic returns the customer-facing topic of an order.
func OrderTopic(orderID string) string {
	return "order:" + orderID
}

// Event is a message published to a topic.
type Event struct {
	Type      EventType        `json:"type"`
	OrderID   string           `json:"order_id"`
	CourierID *int64           `json:"courier_id,omitempty"`
	Reason    OutcomeReason    `json:"reason,omitempty"`
	Summary   *OrderSummary    `json:"summary,omitempty"`
	Outcome   *DispatchOutcome `json:"outcome,omitempty"`
	At        time.Time        `json:"at"`
}
