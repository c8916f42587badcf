// Package debounce limits reload requests to at most one per window.
package debounce

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vango-dev/hotreload/internal/metrics"
	"github.com/vango-dev/hotreload/internal/reload"
)

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Debouncer) {
		d.now = now
	}
}

// WithMetrics records fired and suppressed requests.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Debouncer) {
		d.metrics = m
	}
}

// Debouncer forwards a request to its target only if the previous
// forwarded request is at least one window old. Requests inside the window
// are dropped, not deferred.
type Debouncer struct {
	limiter *rate.Limiter
	target  reload.Trigger
	now     func() time.Time
	metrics *metrics.Metrics

	mu   sync.Mutex
	last time.Time
}

// New creates a Debouncer. A window of zero forwards every request.
func New(window time.Duration, target reload.Trigger, opts ...Option) *Debouncer {
	limit := rate.Inf
	if window > 0 {
		limit = rate.Every(window)
	}
	if target == nil {
		target = reload.Nop
	}
	d := &Debouncer{
		limiter: rate.NewLimiter(limit, 1),
		target:  target,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Trigger requests a reload and reports whether the target was called.
func (d *Debouncer) Trigger() bool {
	now := d.now()
	if !d.limiter.AllowN(now, 1) {
		d.metrics.IncSuppressed()
		return false
	}

	d.mu.Lock()
	d.last = now
	d.mu.Unlock()

	d.metrics.IncReload()
	d.target.Reload()
	return true
}

// LastTrigger returns when the target was last called, or the zero time.
func (d *Debouncer) LastTrigger() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
