package dispatch

import (
	"context"
	"time"

	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/logx"
)

// DefaultNotifyTimeout bounds follow-up notifications when no timeout is configured.
const DefaultNotifyTimeout = 5 * time.Second

// Broadcaster offers jobs to reachable couriers.
type Broadcaster struct {
	sessions      SessionRegistry
	pub           Publisher
	metrics       Recorder
	logger        logx.Logger
	notifyTimeout time.Duration
	now           func() time.Time
}

// NewBroadcaster creates a Broadcaster. Notifications sent after a round resolves
// give up after notifyTimeout; a non-positive value means DefaultNotifyTimeout.
func NewBroadcaster(sessions SessionRegistry, pub Publisher, metrics Recorder, notifyTimeout time.Duration, logger logx.Logger) *Broadcaster {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = logx.Nop()
	}
	if notifyTimeout <= 0 {
		notifyTimeout = DefaultNotifyTimeout
	}
	return &Broadcaster{
		sessions:      sessions,
		pub:           pub,
		metrics:       metrics,
		logger:        logger,
		notifyTimeout: notifyTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// detach returns a context that outlives ctx's cancellation but not the notify timeout.
// Callers still hold the order lock while notifying.
func (b *Broadcaster) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), b.notifyTimeout)
}

// Offer sends a job offer to every candidate with a live session, in rank order,
// and returns the couriers that actually received it.
// A failed session check or publish skips that courier only.
func (b *Broadcaster) Offer(ctx context.Context, order *domain.Order, candidates []domain.Candidate) []int64 {
	summary := order.Summary()
	notified := make([]int64, 0, len(candidates))

	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		log := b.logger.With(logx.String("order_id", order.ID), logx.Int64("courier_id", cand.CourierID))

		online, err := b.sessions.IsOnline(ctx, cand.CourierID)
		if err != nil {
			log.Warn("session check failed, courier skipped", logx.Err(err))
			continue
		}
		if !online {
			log.Debug("courier has no live session")
			continue
		}

		courierID := cand.CourierID
		ev := domain.Event{
			Type:      domain.EventJobOffer,
			OrderID:   order.ID,
			CourierID: &courierID,
			Summary:   &summary,
			At:        b.now(),
		}
		if err := b.pub.Publish(ctx, domain.CourierTopic(courierID), ev); err != nil {
			log.Warn("job offer not delivered", logx.Err(err))
			continue
		}
		notified = append(notified, courierID)
	}

	b.metrics.OfferSent(len(notified))
	return notified
}

// Withdraw tells couriers that an offer no longer stands.
func (b *Broadcaster) Withdraw(ctx context.Context, orderID string, courierIDs []int64, reason domain.OutcomeReason) {
	for _, id := range courierIDs {
		courierID := id
		ev := domain.Event{
			Type:      domain.EventOfferWithdrawn,
			OrderID:   orderID,
			CourierID: &courierID,
			Reason:    reason,
			At:        b.now(),
		}
		if err := b.pub.Publish(ctx, domain.CourierTopic(courierID), ev); err != nil {
			b.logger.Warn("offer withdrawal not delivered",
				logx.String("order_id", orderID),
				logx.Int64("courier_id", courierID),
				logx.Err(err),
			)
		}
	}
}

// Emit publishes ev to each topic, logging failures.
func (b *Broadcaster) Emit(ctx context.Context, ev domain.Event, topics ...string) {
	if ev.At.IsZero() {
		ev.At = b.now()
	}
	for _, topic := range topics {
		if err := b.pub.Publish(ctx, topic, ev); err != nil {
			b.logger.Warn("event not delivered",
				logx.String("topic", topic),
				logx.String("event", string(ev.Type)),
				logx.String("order_id", ev.OrderID),
				logx.Err(err),
			)
		}
	}
}
