package ratelimit

import (
	"io"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"marketplace-dispatch/internal/logx"
)

const tooManyRequestsBody = `{"error":"too many requests"}`

// Middleware throttles courier responses and session connects per courier.
type Middleware struct {
	logger  logx.Logger
	counter prometheus.Counter
	limiter Limiter
	key     KeyFunc
}

// New creates a Middleware keyed by CourierKey. A nil limiter lets every request through.
func New(logger logx.Logger, counter prometheus.Counter, limiter Limiter) *Middleware {
	return NewWithKey(logger, counter, limiter, CourierKey)
}

// NewWithKey creates a Middleware with a custom key function.
func NewWithKey(logger logx.Logger, counter prometheus.Counter, limiter Limiter, key KeyFunc) *Middleware {
	if limiter == nil {
		limiter = Unlimited{}
	}
	if logger == nil {
		logger = logx.Nop()
	}
	if key == nil {
		key = CourierKey
	}
	return &Middleware{
		logger:  logger,
		counter: counter,
		limiter: limiter,
		key:     key,
	}
}

// Handler returns chi-style middleware.
func (m *Middleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := m.key(r)
			if m.limiter.Allow(key) {
				next.ServeHTTP(w, r)
				return
			}

			if m.counter != nil {
				m.counter.Inc()
			}
			m.logger.Warn("rate limit exceeded",
				logx.String("req_id", chimw.GetReqID(r.Context())),
				logx.String("key", key),
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
			)

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			if _, err := io.WriteString(w, tooManyRequestsBody); err != nil {
				m.logger.Debug("rate limit response write failed",
					logx.String("key", key),
					logx.Err(err),
				)
			}
		})
	}
}
