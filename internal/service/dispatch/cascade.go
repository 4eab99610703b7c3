package dispatch

import (
	"context"
	"time"

	"marketplace-dispatch/internal/apperr"
	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/logx"
	"marketplace-dispatch/internal/ports/dispatchtx"
)

// Cascade finalizes rounds nobody accepted. It never re-dispatches.
type Cascade struct {
	tx          dispatchtx.Runner
	broadcaster *Broadcaster
	metrics     Recorder
	logger      logx.Logger
	now         func() time.Time
}

// NewCascade creates a Cascade.
func NewCascade(tx dispatchtx.Runner, broadcaster *Broadcaster, metrics Recorder, logger logx.Logger) *Cascade {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Cascade{
		tx:          tx,
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Exhaust moves the order to no_courier_available with the reason and decline count,
// records the outcome and notifies the customer channel and ops.
func (c *Cascade) Exhaust(ctx context.Context, orderID string, reason domain.OutcomeReason, declined int) (domain.DispatchOutcome, error) {
	outcome := domain.NewExhaustedOutcome(orderID, reason, declined, c.now())

	err := c.tx.WithTx(ctx, func(tx dispatchtx.Repository) error {
		ok, err := tx.MarkExhausted(ctx, orderID, reason, declined)
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
		return tx.InsertOutcome(ctx, &outcome)
	})
	if err != nil {
		return domain.DispatchOutcome{}, err
	}

	c.metrics.Outcome(outcome.Resolution, outcome.Reason)
	c.logger.Info("dispatch exhausted",
		logx.String("event", "dispatch_exhausted"),
		logx.String("order_id", orderID),
		logx.String("reason", string(reason)),
		logx.Int("declined", declined),
	)

	notifyCtx, cancel := c.broadcaster.detach(ctx)
	defer cancel()
	c.broadcaster.Emit(notifyCtx, domain.Event{
		Type:    domain.EventDispatchExhausted,
		OrderID: orderID,
		Reason:  reason,
		Outcome: &outcome,
		At:      outcome.CreatedAt,
	}, domain.OrderTopic(orderID), domain.OpsTopic)

	return outcome, nil
}
