package handlers

import "marketplace-dispatch/internal/domain"

type respondRequest struct {
	CourierID int64 `json:"courier_id"`
}

type outcomesResponse struct {
	OrderID  string                   `json:"order_id"`
	Outcomes []domain.DispatchOutcome `json:"outcomes"`
}

func toOutcomesResponse(orderID string, list []domain.DispatchOutcome) outcomesResponse {
	if list == nil {
		list = []domain.DispatchOutcome{}
	}
	return outcomesResponse{OrderID: orderID, Outcomes: list}
}
