package dispatch

import (
	"context"
	"time"

	"marketplace-dispatch/internal/apperr"
	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/logx"
	"marketplace-dispatch/internal/ports/dispatchtx"
)

// Resolver durably commits the winning courier.
type Resolver struct {
	tx          dispatchtx.Runner
	broadcaster *Broadcaster
	metrics     Recorder
	logger      logx.Logger
	now         func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(tx dispatchtx.Runner, broadcaster *Broadcaster, metrics Recorder, logger logx.Logger) *Resolver {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Resolver{
		tx:          tx,
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Resolve assigns the courier if the order is still dispatchable and unassigned,
// records the outcome, then tells the winner, the customer, ops and every other notified courier.
// A lost durable guard yields apperr.ErrConflict; a vanished order yields apperr.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, orderID string, courierID int64, others []int64) (domain.AcceptResult, error) {
	now := r.now()
	var outcome domain.DispatchOutcome

	err := r.tx.WithTx(ctx, func(tx dispatchtx.Repository) error {
		ok, err := tx.AssignCourier(ctx, orderID, courierID, now)
		if err != nil {
			return err
		}
		if !ok {
			o, err := tx.GetOrder(ctx, orderID)
			if err != nil {
				return err
			}
			if o == nil {
				return apperr.ErrNotFound
			}
			return apperr.ErrConflict
		}

		outcome = domain.NewAssignedOutcome(orderID, courierID, now)
		return tx.InsertOutcome(ctx, &outcome)
	})
	if err != nil {
		return domain.AcceptResult{}, err
	}

	r.metrics.Outcome(outcome.Resolution, outcome.Reason)
	r.logger.Info("courier assigned",
		logx.String("event", "courier_assigned"),
		logx.String("order_id", orderID),
		logx.Int64("courier_id", courierID),
		logx.Int("withdrawn", len(others)),
	)

	notifyCtx, cancel := r.broadcaster.detach(ctx)
	defer cancel()

	winner := courierID
	r.broadcaster.Emit(notifyCtx, domain.Event{
		Type:      domain.EventAssignmentConfirmed,
		OrderID:   orderID,
		CourierID: &winner,
		Outcome:   &outcome,
		At:        now,
	}, domain.OrderTopic(orderID), domain.CourierTopic(courierID))
	r.broadcaster.Withdraw(notifyCtx, orderID, others, domain.ReasonAccepted)
	r.broadcaster.Emit(notifyCtx, domain.Event{
		Type:      domain.EventDispatchOutcome,
		OrderID:   orderID,
		CourierID: &winner,
		Reason:    outcome.Reason,
		Outcome:   &outcome,
		At:        now,
	}, domain.OpsTopic)

	return domain.AcceptResult{OrderID: orderID, CourierID: courierID, AssignedAt: now}, nil
}
