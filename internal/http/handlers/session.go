package handlers

import (
	"net/http"

	"marketplace-dispatch/internal/logx"
	"marketplace-dispatch/internal/session"
)

// SessionHandler upgrades WebSocket connections for couriers and order watchers.
type SessionHandler struct {
	hub       sessionServer
	responder session.Responder
	presence  session.Presence
	logger    logx.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(logger logx.Logger, hub sessionServer, responder session.Responder, presence session.Presence) *SessionHandler {
	if logger == nil {
		logger = logx.Nop()
	}
	return &SessionHandler{hub: hub, responder: responder, presence: presence, logger: logger}
}

// Courier handles GET /ws/couriers/{courierID}.
func (h *SessionHandler) Courier(w http.ResponseWriter, r *http.Request) {
	courierID, err := idFromURL(r, "courierID")
	if err != nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "invalid courier id")
		return
	}
	// the upgrader has already answered the request on failure
	if err := h.hub.ServeCourier(w, r, courierID, h.responder, h.presence); err != nil {
		h.logger.Warn("courier session upgrade failed",
			logx.Int64("courier_id", courierID),
			logx.String("req_id", reqID(r.Context())),
			logx.Err(err),
		)
	}
}

// Order handles GET /ws/orders/{orderID}.
func (h *SessionHandler) Order(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDFromURL(r)
	if err != nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "invalid order id")
		return
	}
	if err := h.hub.ServeOrder(w, r, orderID); err != nil {
		h.logger.Warn("order session upgrade failed",
			logx.String("order_id", orderID),
			logx.String("req_id", reqID(r.Context())),
			logx.Err(err),
		)
	}
}
