package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-dispatch/internal/apperr"
	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/logx"
)

// Coordinator owns the per-order race state. Every mutation of a round runs under the
// order's lock, held across the durable write that resolves it.
type Coordinator struct {
	store       StateStore
	locker      Locker
	orders      OrderReader
	couriers    CourierDirectory
	broadcaster *Broadcaster
	resolver    *Resolver
	cascade     *Cascade
	metrics     Recorder
	logger      logx.Logger
	now         func() time.Time
}

// CoordinatorDeps lists the collaborators of a Coordinator.
type CoordinatorDeps struct {
	Store       StateStore
	Locker      Locker
	Orders      OrderReader
	Couriers    CourierDirectory
	Broadcaster *Broadcaster
	Resolver    *Resolver
	Cascade     *Cascade
	Metrics     Recorder
	Logger      logx.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(d CoordinatorDeps) *Coordinator {
	if d.Metrics == nil {
		d.Metrics = nopRecorder{}
	}
	if d.Logger == nil {
		d.Logger = logx.Nop()
	}
	return &Coordinator{
		store:       d.Store,
		locker:      d.Locker,
		orders:      d.Orders,
		couriers:    d.Couriers,
		broadcaster: d.Broadcaster,
		resolver:    d.Resolver,
		cascade:     d.Cascade,
		metrics:     d.Metrics,
		logger:      d.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (c *Coordinator) lock(ctx context.Context, orderID string) (func(), error) {
	unlock, err := c.locker.Lock(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("lock order %q: %w", orderID, err)
	}
	return unlock, nil
}

// dropState removes the round's state. The durable store stays authoritative, so a failure is only logged.
func (c *Coordinator) dropState(ctx context.Context, orderID string) {
	if err := c.store.Delete(ctx, orderID); err != nil {
		c.logger.Warn("drop dispatch state failed", logx.String("order_id", orderID), logx.Err(err))
	}
}

// withdrawDetached withdraws offers even when ctx is already done, within the notify timeout.
func (c *Coordinator) withdrawDetached(ctx context.Context, orderID string, courierIDs []int64) {
	notifyCtx, cancel := c.broadcaster.detach(ctx)
	defer cancel()
	c.broadcaster.Withdraw(notifyCtx, orderID, courierIDs, "")
}

// Open starts an offer round for a dispatchable order. An existing round is superseded
// and its outstanding offers are withdrawn. When nobody can be reached the order is
// exhausted immediately.
func (c *Coordinator) Open(ctx context.Context, orderID string, candidates []domain.Candidate) (domain.DispatchResult, error) {
	return c.open(ctx, orderID, candidates, true)
}

// OpenIfIdle is Open for an order without a live round. A live round is left untouched
// and ErrConflict is returned.
func (c *Coordinator) OpenIfIdle(ctx context.Context, orderID string, candidates []domain.Candidate) (domain.DispatchResult, error) {
	return c.open(ctx, orderID, candidates, false)
}

func (c *Coordinator) open(ctx context.Context, orderID string, candidates []domain.Candidate, supersede bool) (domain.DispatchResult, error) {
	unlock, err := c.lock(ctx, orderID)
	if err != nil {
		return domain.DispatchResult{}, err
	}
	defer unlock()

	order, err := c.orders.GetSnapshot(ctx, orderID)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("load order %q: %w", orderID, err)
	}
	if order == nil {
		return domain.DispatchResult{}, apperr.ErrNotFound
	}
	if order.Assigned() || !order.Status.Dispatchable() {
		return domain.DispatchResult{}, apperr.ErrConflict
	}

	prev, err := c.store.Get(ctx, orderID)
	if err != nil {
		return domain.DispatchResult{}, err
	}
	if prev != nil && !supersede {
		c.logger.Info("offer round already open",
			logx.String("order_id", orderID),
			logx.Int64s("pending", prev.Pending()),
		)
		return domain.DispatchResult{}, apperr.ErrConflict
	}
	if prev != nil {
		c.broadcaster.Withdraw(ctx, orderID, prev.Pending(), "")
		c.logger.Info("offer round superseded",
			logx.String("order_id", orderID),
			logx.Int64s("withdrawn", prev.Pending()),
		)
	}

	notified := c.broadcaster.Offer(ctx, order, candidates)
	if err := ctx.Err(); err != nil {
		c.withdrawDetached(ctx, orderID, notified)
		return domain.DispatchResult{}, fmt.Errorf("offer order %q: %w", orderID, err)
	}

	result := domain.DispatchResult{
		OrderID:    orderID,
		Candidates: candidates,
		Notified:   notified,
	}

	if len(notified) == 0 {
		if prev != nil {
			c.dropState(ctx, orderID)
		}
		outcome, err := c.cascade.Exhaust(ctx, orderID, domain.ReasonNoReachableCouriers, 0)
		if err != nil {
			return domain.DispatchResult{}, err
		}
		result.Outcome = &outcome
		return result, nil
	}

	st := domain.NewNotificationState(orderID, notified, c.now())
	if err := c.store.Save(ctx, st); err != nil {
		c.withdrawDetached(ctx, orderID, notified)
		return domain.DispatchResult{}, err
	}

	c.logger.Info("offer sent",
		logx.String("event", "offer_sent"),
		logx.String("order_id", orderID),
		logx.Int("candidates", len(candidates)),
		logx.Int64s("notified", st.Notified),
	)
	return result, nil
}

// Accept resolves the race in favor of the courier if the round allows it.
// Without a round, the durable unassigned guard alone decides.
func (c *Coordinator) Accept(ctx context.Context, orderID string, courierID int64) (domain.AcceptResult, error) {
	unlock, err := c.lock(ctx, orderID)
	if err != nil {
		return domain.AcceptResult{}, err
	}
	defer unlock()

	log := c.logger.With(logx.String("order_id", orderID), logx.Int64("courier_id", courierID))

	st, err := c.store.Get(ctx, orderID)
	if err != nil {
		return domain.AcceptResult{}, err
	}
	if st == nil {
		return c.recoverAccept(ctx, orderID, courierID, log)
	}

	switch {
	case st.Accepted():
		c.metrics.AcceptConflict()
		log.Info("accept lost the race", logx.String("event", "accept_conflict"), logx.Int64("accepted_by", *st.AcceptedBy))
		return domain.AcceptResult{}, apperr.ErrConflict
	case !st.IsNotified(courierID):
		c.metrics.UnauthorizedResponse()
		log.Warn("accept from courier without offer", logx.String("event", "unauthorized_response"))
		return domain.AcceptResult{}, apperr.ErrUnauthorized
	case st.HasRejected(courierID):
		log.Info("accept after decline", logx.String("event", "accept_conflict"))
		return domain.AcceptResult{}, apperr.ErrConflict
	}

	res, err := c.resolver.Resolve(ctx, orderID, courierID, st.Others(courierID))
	if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrNotFound) {
		// The order was resolved outside this round; the round is stale.
		c.metrics.AcceptConflict()
		log.Info("accept rejected by durable guard", logx.String("event", "accept_conflict"))
		c.withdrawDetached(ctx, orderID, st.Pending())
		c.dropState(ctx, orderID)
		return domain.AcceptResult{}, err
	}
	if err != nil {
		return domain.AcceptResult{}, err
	}

	// The round is marked won before it is dropped; a stale copy must still refuse late responses.
	winner := courierID
	st.AcceptedBy = &winner
	if err := c.store.Save(ctx, st); err != nil {
		log.Warn("mark round accepted failed", logx.Err(err))
	}
	c.dropState(ctx, orderID)
	return res, nil
}

func (c *Coordinator) recoverAccept(ctx context.Context, orderID string, courierID int64, log logx.Logger) (domain.AcceptResult, error) {
	courier, err := c.couriers.Get(ctx, courierID)
	if err != nil {
		return domain.AcceptResult{}, fmt.Errorf("load courier %d: %w", courierID, err)
	}
	if courier == nil {
		return domain.AcceptResult{}, apperr.ErrNotFound
	}
	if !courier.Eligible() {
		c.metrics.AcceptConflict()
		log.Info("recovery accept from ineligible courier",
			logx.String("event", "accept_conflict"),
			logx.Bool("online", courier.Online),
			logx.Bool("active", courier.Active),
			logx.Bool("busy", courier.Busy),
		)
		return domain.AcceptResult{}, apperr.ErrConflict
	}

	res, err := c.resolver.Resolve(ctx, orderID, courierID, nil)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			c.metrics.AcceptConflict()
			log.Info("accept lost the race", logx.String("event", "accept_conflict"), logx.Bool("recovered", true))
		}
		return domain.AcceptResult{}, err
	}

	log.Warn("accepted without dispatch state", logx.String("event", "state_recovery_accept"))
	res.Recovered = true
	return res, nil
}

// Reject records a decline. Once every notified courier has declined the order is exhausted.
func (c *Coordinator) Reject(ctx context.Context, orderID string, courierID int64) (domain.RejectResult, error) {
	unlock, err := c.lock(ctx, orderID)
	if err != nil {
		return domain.RejectResult{}, err
	}
	defer unlock()

	log := c.logger.With(logx.String("order_id", orderID), logx.Int64("courier_id", courierID))
	result := domain.RejectResult{OrderID: orderID, CourierID: courierID}

	st, err := c.store.Get(ctx, orderID)
	if err != nil {
		return domain.RejectResult{}, err
	}
	if st == nil {
		return c.rejectWithoutState(ctx, result)
	}

	switch {
	case st.Accepted():
		result.Status = domain.RejectAlreadyAccepted
		return result, nil
	case !st.IsNotified(courierID):
		c.metrics.UnauthorizedResponse()
		log.Warn("reject from courier without offer", logx.String("event", "unauthorized_response"))
		return domain.RejectResult{}, apperr.ErrUnauthorized
	case !st.Reject(courierID):
		return domain.RejectResult{}, apperr.ErrConflict
	}

	if !st.Exhausted() {
		if err := c.store.Save(ctx, st); err != nil {
			return domain.RejectResult{}, err
		}
		result.Status = domain.RejectRecorded
		return result, nil
	}

	outcome, err := c.cascade.Exhaust(ctx, orderID, domain.ReasonAllDeclined, len(st.Rejected))
	if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrNotFound) {
		c.dropState(ctx, orderID)
		return domain.RejectResult{}, err
	}
	if err != nil {
		return domain.RejectResult{}, err
	}

	c.dropState(ctx, orderID)
	result.Status = domain.RejectExhausted
	result.Outcome = &outcome
	return result, nil
}

// rejectWithoutState answers a decline when the round is gone, using the durable order.
func (c *Coordinator) rejectWithoutState(ctx context.Context, result domain.RejectResult) (domain.RejectResult, error) {
	order, err := c.orders.GetSnapshot(ctx, result.OrderID)
	if err != nil {
		return domain.RejectResult{}, fmt.Errorf("load order %q: %w", result.OrderID, err)
	}
	switch {
	case order == nil:
		return domain.RejectResult{}, apperr.ErrNotFound
	case order.Assigned():
		result.Status = domain.RejectAlreadyAccepted
		return result, nil
	case !order.Status.Dispatchable():
		return domain.RejectResult{}, apperr.ErrConflict
	}

	c.logger.Warn("decline without dispatch state",
		logx.String("order_id", result.OrderID),
		logx.Int64("courier_id", result.CourierID),
	)
	result.Status = domain.RejectStateLost
	return result, nil
}

// Abandon ends the round of an order canceled upstream and withdraws its offers.
func (c *Coordinator) Abandon(ctx context.Context, orderID string) error {
	unlock, err := c.lock(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := c.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}

	c.broadcaster.Withdraw(ctx, orderID, st.Pending(), "")
	if err := c.store.Delete(ctx, orderID); err != nil {
		return err
	}
	c.logger.Info("offer round abandoned", logx.String("order_id", orderID), logx.Int64s("withdrawn", st.Pending()))
	return nil
}

// ExpireOffers exhausts rounds offered more than ttl ago with reason offer_timeout.
// A zero ttl disables expiry. Each order is handled on its own; a failure on one does not stop the rest.
func (c *Coordinator) ExpireOffers(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-ttl)

	ids, err := c.store.Expired(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	var (
		expired int
		errs    []error
	)
	for _, id := range ids {
		ok, err := c.expireOne(ctx, id, cutoff)
		if err != nil {
			c.logger.Warn("expire offer round failed", logx.String("order_id", id), logx.Err(err))
			errs = append(errs, fmt.Errorf("expire %q: %w", id, err))
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

func (c *Coordinator) expireOne(ctx context.Context, orderID string, cutoff time.Time) (bool, error) {
	unlock, err := c.lock(ctx, orderID)
	if err != nil {
		return false, err
	}
	defer unlock()

	st, err := c.store.Get(ctx, orderID)
	if err != nil {
		return false, err
	}
	if st == nil {
		return false, c.store.Delete(ctx, orderID)
	}
	if st.Accepted() {
		return false, c.store.Delete(ctx, orderID)
	}
	if !st.OfferedAt.Before(cutoff) {
		return false, nil
	}

	pending := st.Pending()
	_, err = c.cascade.Exhaust(ctx, orderID, domain.ReasonOfferTimeout, len(st.Rejected))
	switch {
	case errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrNotFound):
		c.broadcaster.Withdraw(ctx, orderID, pending, "")
		return false, c.store.Delete(ctx, orderID)
	case err != nil:
		return false, err
	}

	c.broadcaster.Withdraw(ctx, orderID, pending, domain.ReasonOfferTimeout)
	c.dropState(ctx, orderID)
	return true, nil
}
