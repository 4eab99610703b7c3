package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"

	"marketplace-dispatch/internal/config"
	"marketplace-dispatch/internal/http/middleware/ratelimit"
	"marketplace-dispatch/internal/logx"
)

// rateLimitClock is the time source of the courier response limiter.
type rateLimitClock func() time.Time

func newRateLimiter(cfg *config.Config, clock rateLimitClock) ratelimit.Limiter {
	rl := cfg.RateLimit
	if !rl.Enabled {
		return ratelimit.Unlimited{}
	}
	return ratelimit.NewKeyedLimiter(clock, ratelimit.Config{
		Rate:    rl.Rate,
		Burst:   rl.Burst,
		Idle:    rl.TTL,
		MaxKeys: rl.MaxBuckets,
	})
}

func newRateLimitClock() rateLimitClock {
	return time.Now
}

type rateLimitIn struct {
	dig.In
	Logger  logx.Logger
	Counter prometheus.Counter `name:"rate_limit_exceeded_total"`
	Limiter ratelimit.Limiter
}

func newRateLimitMiddleware(in rateLimitIn) *ratelimit.Middleware {
	return ratelimit.New(in.Logger, in.Counter, in.Limiter)
}
