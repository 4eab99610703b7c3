package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config stores KeyedLimiter settings.
type Config struct {
	Rate    float64       // responses per second for one key
	Burst   int           // responses a quiet key may send at once
	Idle    time.Duration // keys unseen this long are forgotten; 0 keeps them
	MaxKeys int           // 0 means unbounded; unknown keys are refused once full
}

// KeyedLimiter keeps one token bucket per courier (or per client address for anonymous callers).
type KeyedLimiter struct {
	cfg  Config
	now  func() time.Time
	mu   sync.Mutex
	keys map[string]*entry

	nextPrune time.Time
}

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewKeyedLimiter creates a KeyedLimiter. A nil now uses the wall clock.
func NewKeyedLimiter(now func() time.Time, cfg Config) *KeyedLimiter {
	if now == nil {
		now = time.Now
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxKeys < 0 {
		cfg.MaxKeys = 0
	}
	return &KeyedLimiter{
		cfg:  cfg,
		now:  now,
		keys: make(map[string]*entry),
	}
}

// Allow spends one token of key's bucket.
func (l *KeyedLimiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now, false)
	e, ok := l.keys[key]
	if !ok {
		if l.full() {
			l.pruneLocked(now, true)
			if l.full() {
				return false
			}
		}
		e = &entry{lim: rate.NewLimiter(rate.Limit(l.cfg.Rate), l.cfg.Burst)}
		l.keys[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func (l *KeyedLimiter) full() bool {
	return l.cfg.MaxKeys > 0 && len(l.keys) >= l.cfg.MaxKeys
}

// pruneLocked drops idle keys. Without force it runs at most once per half idle period.
func (l *KeyedLimiter) pruneLocked(now time.Time, force bool) {
	if l.cfg.Idle <= 0 {
		return
	}
	if !force && now.Before(l.nextPrune) {
		return
	}
	l.nextPrune = now.Add(l.cfg.Idle / 2)

	for k, e := range l.keys {
		if now.Sub(e.seen) > l.cfg.Idle {
			delete(l.keys, k)
		}
	}
}
