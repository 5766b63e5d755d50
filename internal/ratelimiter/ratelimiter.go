// Package ratelimiter throttles incoming kernel requests with a token bucket.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter throttles requests using the token bucket algorithm from
// golang.org/x/time/rate.
//
// Tokens refill at the configured requests per second and the bucket holds at
// most burst tokens. A request that finds the bucket empty waits for a token
// rather than failing, so the kernel sees latency instead of errors.
//
// A nil *Limiter permits every request, which lets callers skip nil checks
// when throttling is disabled.
//
// Thread safety:
// All methods are safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter. A requestsPerSecond of zero (or less) disables
// throttling and returns nil. A burst below one is raised to one, since a
// zero-capacity bucket would block forever.
func New(requestsPerSecond float64, burst int) *Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Allow consumes a token if one is available without waiting.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Wait consumes a token, blocking until one is available or ctx is done.
//
// Returns:
//   - throttled: true if the request had to wait
//   - err: the context error if the wait was abandoned
func (l *Limiter) Wait(ctx context.Context) (throttled bool, err error) {
	if l == nil {
		return false, nil
	}
	if l.limiter.Allow() {
		return false, nil
	}
	return true, l.limiter.Wait(ctx)
}

// SetLimit changes the sustained rate. Zero or less removes the limit.
func (l *Limiter) SetLimit(requestsPerSecond float64) {
	if l == nil {
		return
	}
	if requestsPerSecond <= 0 {
		l.limiter.SetLimit(rate.Inf)
		return
	}
	l.limiter.SetLimit(rate.Limit(requestsPerSecond))
}

// Tokens returns the tokens currently in the bucket. Intended for tests and
// debugging: the value can change immediately after the call.
func (l *Limiter) Tokens() float64 {
	if l == nil {
		return 0
	}
	return l.limiter.Tokens()
}
