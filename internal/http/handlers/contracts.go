package handlers

import (
	"context"
	"net/http"

	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/service/dispatch"
	"marketplace-dispatch/internal/session"
)

type dispatchUsecase interface {
	Dispatch(ctx context.Context, orderID string) (domain.DispatchResult, error)
	Accept(ctx context.Context, orderID string, courierID int64) (domain.AcceptResult, error)
	Reject(ctx context.Context, orderID string, courierID int64) (domain.RejectResult, error)
	Outcomes(ctx context.Context, orderID string) ([]domain.DispatchOutcome, error)
}

// NewDispatchUsecase wires a dispatch Service into a dispatchUsecase.
func NewDispatchUsecase(svc *dispatch.Service) dispatchUsecase {
	return svc
}

type sessionServer interface {
	ServeCourier(w http.ResponseWriter, r *http.Request, courierID int64, responder session.Responder, presence session.Presence) error
	ServeOrder(w http.ResponseWriter, r *http.Request, orderID string) error
}
