package domain

import (
	"time"

	"github.com/google/uuid"
)

// Resolution is the final result of a dispatch round.
type Resolution string

// List of possible resolutions.
const (
	ResolutionAssigned  Resolution = "assigned"
	ResolutionExhausted Resolution = "exhausted"
)

// OutcomeReason explains how a round was resolved.
type OutcomeReason string

// List of outcome reasons.
const (
	ReasonAccepted            OutcomeReason = "accepted"
	ReasonAllDeclined         OutcomeReason = "all_declined"
	ReasonNoReachableCouriers OutcomeReason = "no_reachable_couriers"
	ReasonOfferTimeout        OutcomeReason = "offer_timeout"
)

// DispatchOutcome is the durable audit record of a resolved round.
type DispatchOutcome struct {
	ID         uuid.UUID     `json:"id"`
	OrderID    string        `json:"order_id"`
	Resolution Resolution    `json:"resolution"`
	CourierID  *int64        `json:"courier_id,omitempty"`
	Reason     OutcomeReason `json:"reason"`
	Declined   int           `json:"declined"`
	CreatedAt  time.Time     `json:"created_at"`
}

// NewAssignedOutcome builds the outcome of a successful acceptance.
func NewAssignedOutcome(orderID string, courierID int64, at time.Time) DispatchOutcome {
	id := courierID
	return DispatchOutcome{
		ID:         uuid.New(),
		OrderID:    orderID,
		Resolution: ResolutionAssigned,
		CourierID:  &id,
		Reason:     ReasonAccepted,
		CreatedAt:  at,
	}
}

// NewExhaustedOutcome builds the outcome of a round nobody accepted.
func NewExhaustedOutcome(orderID string, reason OutcomeReason, declined int, at time.Time) DispatchOutcome {
	return DispatchOutcome{
		ID:         uuid.New(),
		OrderID:    orderID,
		Resolution: ResolutionExhausted,
		Reason:     reason,
		Declined:   declined,
		CreatedAt:  at,
	}
}

// DispatchResult is returned to the caller that started a dispatch attempt.
type DispatchResult struct {
	OrderID    string           `json:"order_id"`
	Candidates []Candidate      `json:"candidates"`
	Notified   []int64          `json:"notified"`
	Outcome    *DispatchOutcome `json:"outcome,omitempty"`
}

// AcceptResult is returned to the courier whose acceptance won.
type AcceptResult struct {
	OrderID    string    `json:"order_id"`
	CourierID  int64     `json:"courier_id"`
	AssignedAt time.Time `json:"assigned_at"`
	// Recovered is true when the race state was missing and only the durable guard was checked.
	Recovered bool `json:"recovered"`
}

// RejectStatus describes what a decline did.
type RejectStatus string

// List of reject statuses.
const (
	RejectRecorded        RejectStatus = "recorded"
	RejectExhausted       RejectStatus = "exhausted"
	RejectAlreadyAccepted RejectStatus = "already_accepted"
	RejectStateLost       RejectStatus = "state_lost"
)

// RejectResult is returned to a declining courier.
type RejectResult struct {
	OrderID   string           `json:"order_id"`
	CourierID int64            `json:"courier_id"`
	Status    RejectStatus     `json:"status"`
	Outcome   *DispatchOutcome `json:"outcome,omitempty"`
}
