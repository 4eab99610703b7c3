package dispatchtx

import (
	"context"
	"time"

	"marketplace-dispatch/internal/domain"
)

// Repository is the set of writes that resolve a dispatch round inside one transaction.
type Repository interface {
	// GetOrder locks the order row. It returns (nil, nil) when the order does not exist.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	// AssignCourier sets the courier only if the order is dispatchable and still unassigned.
	AssignCourier(ctx context.Context, orderID string, courierID int64, at time.Time) (bool, error)
	// MarkExhausted moves a dispatchable, unassigned order to no_courier_available.
	MarkExhausted(ctx context.Context, orderID string, reason domain.OutcomeReason, declined int) (bool, error)
	InsertOutcome(ctx context.Context, o *domain.DispatchOutcome) error
}

// Runner is a transaction runner
type Runner interface {
	WithTx(ctx context.Context, fn func(tx Repository) error) error
}
