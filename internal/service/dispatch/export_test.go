package dispatch

import (
	"context"
	"time"
)

// SetNow replaces the clock of the coordinator.
func (c *Coordinator) SetNow(now func() time.Time) { c.now = now }

// SetWait replaces the backoff sleep of the dispatcher.
func (d *RetryingDispatcher) SetWait(wait func(ctx context.Context, d time.Duration) bool) {
	d.wait = wait
}

var Backoff = backoff
