package sink

import (
	"context"
	"sync/atomic"

	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"
)

// EventLimiter is a token-bucket limiter guarding a sink against overload.
// The underlying limiter can be swapped at runtime without blocking
// callers.
type EventLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

// NewEventLimiter allows limit events per second with the given burst.
func NewEventLimiter(limit, burst int) *EventLimiter {
	l := &EventLimiter{}
	l.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
	return l
}

// Allow reports whether one more event fits the current budget. It never
// blocks; the caller decides what to do with rejected events.
func (l *EventLimiter) Allow() bool {
	return l.limiter.Load().Allow()
}

// Take blocks until the bucket releases a token.
func (l *EventLimiter) Take() error {
	return l.limiter.Load().Wait(context.Background())
}

// Reload replaces the limiter configuration at runtime.
func (l *EventLimiter) Reload(limit, burst int) {
	l.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
}

// FunnelLimiter is a leaky-bucket limiter pacing writes at a steady
// interval, useful in front of a socket that dislikes bursts.
type FunnelLimiter struct {
	limiter atomic.Pointer[ratelimit.Limiter]
}

// NewFunnelLimiter paces callers to limit events per second.
func NewFunnelLimiter(limit int) *FunnelLimiter {
	l := &FunnelLimiter{}
	lim := ratelimit.New(limit)
	l.limiter.Store(&lim)
	return l
}

// Take blocks until the next pacing slot opens.
func (l *FunnelLimiter) Take() {
	_ = (*l.limiter.Load()).Take()
}

// Reload replaces the pacing rate at runtime.
func (l *FunnelLimiter) Reload(limit int) {
	lim := ratelimit.New(limit)
	l.limiter.Store(&lim)
}
