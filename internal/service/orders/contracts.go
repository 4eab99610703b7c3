//go:generate mockgen -source=contracts.go -destination=dispatch_port_mock_test.go -package=orders_test

package orders

import (
	"context"

	"marketplace-dispatch/internal/domain"
)

// DispatchPort abstracts the subset of dispatch operations
// needed by orders Processor when handling order events
type DispatchPort interface {
	Dispatch(ctx context.Context, orderID string) (domain.DispatchResult, error)
	Abandon(ctx context.Context, orderID string) error
}
