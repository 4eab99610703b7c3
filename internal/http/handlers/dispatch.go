package handlers

import (
	"net/http"

	"marketplace-dispatch/internal/logx"
)

// DispatchHandler serves the order dispatch endpoints.
type DispatchHandler struct {
	usecase dispatchUsecase
	logger  logx.Logger
}

// NewDispatchHandler creates a new DispatchHandler.
func NewDispatchHandler(logger logx.Logger, uc dispatchUsecase) *DispatchHandler {
	if logger == nil {
		logger = logx.Nop()
	}
	return &DispatchHandler{usecase: uc, logger: logger}
}

// Dispatch handles POST /orders/{orderID}/dispatch.
// An exhausted round is a 200 with the recorded outcome.
func (h *DispatchHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDFromURL(r)
	if err != nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "invalid order id")
		return
	}

	res, err := h.usecase.Dispatch(r.Context(), orderID)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, res)
}

// Accept handles POST /orders/{orderID}/accept.
func (h *DispatchHandler) Accept(w http.ResponseWriter, r *http.Request) {
	orderID, courierID, ok := h.respondParams(w, r)
	if !ok {
		return
	}

	res, err := h.usecase.Accept(r.Context(), orderID, courierID)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, res)
}

// Reject handles POST /orders/{orderID}/reject.
func (h *DispatchHandler) Reject(w http.ResponseWriter, r *http.Request) {
	orderID, courierID, ok := h.respondParams(w, r)
	if !ok {
		return
	}

	res, err := h.usecase.Reject(r.Context(), orderID, courierID)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, res)
}

// Outcomes handles GET /orders/{orderID}/outcomes.
func (h *DispatchHandler) Outcomes(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDFromURL(r)
	if err != nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "invalid order id")
		return
	}

	list, err := h.usecase.Outcomes(r.Context(), orderID)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toOutcomesResponse(orderID, list))
}

func (h *DispatchHandler) respondParams(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	orderID, err := orderIDFromURL(r)
	if err != nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "invalid order id")
		return "", 0, false
	}
	var req respondRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return "", 0, false
	}
	if req.CourierID <= 0 {
		writeError(h.logger, w, r, http.StatusBadRequest, "invalid courier_id")
		return "", 0, false
	}
	return orderID, req.CourierID, true
}
