package orders

import (
	"context"
	"errors"

	"marketplace-dispatch/internal/apperr"
	"marketplace-dispatch/internal/logx"
)

// Processor turns order lifecycle events into dispatch attempts.
type Processor struct {
	dispatch DispatchPort
	logger   logx.Logger
	factory  *actionFactory
}

// NewProcessor creates a new orders.Processor
func NewProcessor(dispatch DispatchPort, logger logx.Logger) *Processor {
	if logger == nil {
		logger = logx.Nop()
	}
	p := &Processor{
		dispatch: dispatch,
		logger:   logger,
	}
	p.factory = newActionFactory(p.onReady, p.onCanceled)
	return p
}

// Handle processes a single orders.Event. Statuses dispatch does not care about are ignored.
func (p *Processor) Handle(ctx context.Context, e Event) error {
	if p.factory == nil {
		return nil
	}
	fn, ok := p.factory.get(e.Status)
	if !ok {
		return nil
	}
	return fn(ctx, e)
}

func (p *Processor) onReady(ctx context.Context, e Event) error {
	res, err := p.dispatch.Dispatch(ctx, e.OrderID)
	switch {
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrInvalid):
		p.logger.Info("order event skipped",
			logx.String("order_id", e.OrderID),
			logx.String("status", e.Status),
			logx.Err(err),
		)
		return nil
	case err != nil:
		return err
	}

	fields := []logx.Field{
		logx.String("order_id", e.OrderID),
		logx.Int("candidates", len(res.Candidates)),
		logx.Int("notified", len(res.Notified)),
	}
	if res.Outcome != nil {
		fields = append(fields, logx.String("resolution", string(res.Outcome.Resolution)))
	}
	p.logger.Info("order dispatched", fields...)
	return nil
}

func (p *Processor) onCanceled(ctx context.Context, e Event) error {
	err := p.dispatch.Abandon(ctx, e.OrderID)
	if errors.Is(err, apperr.ErrInvalid) {
		return nil
	}
	return err
}
