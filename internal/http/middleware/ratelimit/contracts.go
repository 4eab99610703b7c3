package ratelimit

// Limiter decides whether the caller behind key may act now.
type Limiter interface {
	Allow(key string) bool
}

// Unlimited lets every call through. It stands in when throttling is disabled.
type Unlimited struct{}

// Allow always reports true.
func (Unlimited) Allow(string) bool { return true }
