package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketplace-dispatch/internal/http/handlers"
	mw "marketplace-dispatch/internal/http/middleware"
	"marketplace-dispatch/internal/http/middleware/ratelimit"
	"marketplace-dispatch/internal/logx"
)

// New constructs a chi-based http.Handler with base middleware and routes.
// WebSocket routes stay outside the request timeout.
func New(
	logger logx.Logger,
	h *handlers.Handlers,
	dispatch *handlers.DispatchHandler,
	sessions *handlers.SessionHandler,
	limiter *ratelimit.Middleware,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Observability(logger))
	r.Use(middleware.Recoverer)

	r.With(limiter.Handler()).Get("/ws/couriers/{courierID}", sessions.Courier)
	r.Get("/ws/orders/{orderID}", sessions.Order)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))

		r.Get("/ping", h.Ping)
		r.Method(http.MethodHead, "/healthcheck", http.HandlerFunc(h.HealthcheckHead))
		r.Handle("/metrics", promhttp.Handler())

		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Post("/dispatch", dispatch.Dispatch)
			r.Get("/outcomes", dispatch.Outcomes)

			r.With(limiter.Handler()).Post("/accept", dispatch.Accept)
			r.With(limiter.Handler()).Post("/reject", dispatch.Reject)
		})
	})

	r.NotFound(http.HandlerFunc(h.NotFound))

	return r
}
