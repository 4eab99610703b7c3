package dispatch

import (
	"context"
	"errors"
	"time"

	"marketplace-dispatch/internal/apperr"
	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/logx"
)

type dispatcher interface {
	Dispatch(ctx context.Context, orderID string) (domain.DispatchResult, error)
}

// DispatchFunc adapts a function to the dispatcher wrapped by RetryingDispatcher.
type DispatchFunc func(ctx context.Context, orderID string) (domain.DispatchResult, error)

// Dispatch calls f.
func (f DispatchFunc) Dispatch(ctx context.Context, orderID string) (domain.DispatchResult, error) {
	return f(ctx, orderID)
}

type counter interface {
	Inc()
}

// RetryConfig describes the backoff of RetryingDispatcher.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryingDispatcher retries dispatch attempts that failed with a transient error.
type RetryingDispatcher struct {
	next    dispatcher
	logger  logx.Logger
	retries counter
	cfg     RetryConfig
	wait    func(ctx context.Context, d time.Duration) bool
}

// NewRetryingDispatcher wraps next. It returns nil if next is nil.
func NewRetryingDispatcher(next dispatcher, logger logx.Logger, retries counter, cfg RetryConfig) *RetryingDispatcher {
	if next == nil {
		return nil
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &RetryingDispatcher{next: next, logger: logger, retries: retries, cfg: cfg, wait: sleepWithContext}
}

// Dispatch calls the wrapped dispatcher until it succeeds, fails permanently, or attempts run out.
func (d *RetryingDispatcher) Dispatch(ctx context.Context, orderID string) (domain.DispatchResult, error) {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		res, err := d.next.Dispatch(ctx, orderID)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt == d.cfg.MaxAttempts || !isRetryable(err) {
			break
		}

		delay := backoff(d.cfg.BaseDelay, d.cfg.MaxDelay, attempt)
		if d.retries != nil {
			d.retries.Inc()
		}
		d.logger.Warn("dispatch retry",
			logx.String("order_id", orderID),
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		if !d.wait(ctx, delay) {
			break
		}
	}
	return domain.DispatchResult{}, lastErr
}

func isRetryable(err error) bool {
	return errors.Is(err, apperr.ErrUnavailable)
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
