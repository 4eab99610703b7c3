package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace-dispatch/internal/apperr"
	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/logx"
)

// Service is the entry point of the race engine.
type Service struct {
	orders           OrderReader
	outcomes         OutcomeReader
	eligibility      *Eligibility
	matcher          *Matcher
	coordinator      *Coordinator
	operationTimeout time.Duration
	logger           logx.Logger
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.operationTimeout)
}

// NewService creates a Service. A non-positive timeout falls back to 3s.
func NewService(
	orders OrderReader,
	outcomes OutcomeReader,
	eligibility *Eligibility,
	matcher *Matcher,
	coordinator *Coordinator,
	timeout time.Duration,
	logger logx.Logger,
) *Service {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Service{
		orders:           orders,
		outcomes:         outcomes,
		eligibility:      eligibility,
		matcher:          matcher,
		coordinator:      coordinator,
		operationTimeout: timeout,
		logger:           logger,
	}
}

// Dispatch ranks couriers for a ready order and opens an offer round, superseding a live one.
func (s *Service) Dispatch(ctx context.Context, orderID string) (domain.DispatchResult, error) {
	return s.dispatch(ctx, orderID, s.coordinator.Open)
}

// DispatchIfIdle is Dispatch for redeliverable triggers such as order events.
// An order whose round is still open yields ErrConflict and keeps its round.
func (s *Service) DispatchIfIdle(ctx context.Context, orderID string) (domain.DispatchResult, error) {
	return s.dispatch(ctx, orderID, s.coordinator.OpenIfIdle)
}

type openFunc func(ctx context.Context, orderID string, candidates []domain.Candidate) (domain.DispatchResult, error)

func (s *Service) dispatch(ctx context.Context, orderID string, open openFunc) (domain.DispatchResult, error) {
	orderID, err := validateOrderID(orderID)
	if err != nil {
		return domain.DispatchResult{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	order, err := s.orders.GetSnapshot(ctx, orderID)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("load order %q: %w", orderID, err)
	}
	if order == nil {
		return domain.DispatchResult{}, apperr.ErrNotFound
	}
	if order.Assigned() || !order.Status.Dispatchable() {
		return domain.DispatchResult{}, apperr.ErrConflict
	}

	eligible, err := s.eligibility.Eligible(ctx)
	if err != nil {
		return domain.DispatchResult{}, err
	}

	candidates, err := s.matcher.Rank(ctx, order.SellerIDs(), eligible)
	if err != nil {
		return domain.DispatchResult{}, err
	}

	return open(ctx, orderID, candidates)
}

// Accept handles a courier's acceptance.
func (s *Service) Accept(ctx context.Context, orderID string, courierID int64) (domain.AcceptResult, error) {
	orderID, err := validateResponse(orderID, courierID)
	if err != nil {
		return domain.AcceptResult{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.coordinator.Accept(ctx, orderID, courierID)
}

// Reject handles a courier's decline.
func (s *Service) Reject(ctx context.Context, orderID string, courierID int64) (domain.RejectResult, error) {
	orderID, err := validateResponse(orderID, courierID)
	if err != nil {
		return domain.RejectResult{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.coordinator.Reject(ctx, orderID, courierID)
}

// Abandon drops the open round of an order canceled upstream.
func (s *Service) Abandon(ctx context.Context, orderID string) error {
	orderID, err := validateOrderID(orderID)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.coordinator.Abandon(ctx, orderID)
}

// ExpireOffers exhausts rounds older than ttl.
func (s *Service) ExpireOffers(ctx context.Context, ttl time.Duration) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.coordinator.ExpireOffers(ctx, ttl)
}

// Outcomes lists the durable outcomes of an order.
func (s *Service) Outcomes(ctx context.Context, orderID string) ([]domain.DispatchOutcome, error) {
	orderID, err := validateOrderID(orderID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.outcomes.ListOutcomes(ctx, orderID)
}

func validateOrderID(raw string) (string, error) {
	orderID := strings.TrimSpace(raw)
	if orderID == "" {
		return "", apperr.ErrInvalid
	}
	return orderID, nil
}

func validateResponse(orderID string, courierID int64) (string, error) {
	if courierID <= 0 {
		return "", apperr.ErrInvalid
	}
	return validateOrderID(orderID)
}
