package dispatch

import (
	"context"
	"time"

	"marketplace-dispatch/internal/domain"
)

// OrderReader loads durable order snapshots. A missing order is (nil, nil).
type OrderReader interface {
	GetSnapshot(ctx context.Context, orderID string) (*domain.Order, error)
}

// OutcomeReader lists the audit records of an order.
type OutcomeReader interface {
	ListOutcomes(ctx context.Context, orderID string) ([]domain.DispatchOutcome, error)
}

// CourierDirectory reads couriers. A missing courier is (nil, nil).
type CourierDirectory interface {
	ListEligible(ctx context.Context) ([]domain.Courier, error)
	Get(ctx context.Context, id int64) (*domain.Courier, error)
}

// SellerStore resolves seller pickup locations.
type SellerStore interface {
	Locations(ctx context.Context, ids []int64) ([]domain.Seller, error)
}

// SessionRegistry answers whether a courier is reachable for real-time delivery.
type SessionRegistry interface {
	IsOnline(ctx context.Context, courierID int64) (bool, error)
}

// Publisher delivers an event to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev domain.Event) error
}

// StateStore keeps the notification state of open rounds. A missing state is (nil, nil).
type StateStore interface {
	Get(ctx context.Context, orderID string) (*domain.NotificationState, error)
	Save(ctx context.Context, st *domain.NotificationState) error
	Delete(ctx context.Context, orderID string) error
	// Expired lists orders whose round was offered before the given time.
	Expired(ctx context.Context, before time.Time) ([]string, error)
}

// Locker serializes work per key. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Recorder collects race engine metrics.
type Recorder interface {
	OfferSent(n int)
	Outcome(resolution domain.Resolution, reason domain.OutcomeReason)
	AcceptConflict()
	UnauthorizedResponse()
}

type nopRecorder struct{}

func (nopRecorder) OfferSent(int)                                   {}
func (nopRecorder) Outcome(domain.Resolution, domain.OutcomeReason) {}
func (nopRecorder) AcceptConflict()                                 {}
func (nopRecorder) UnauthorizedResponse()                           {}
