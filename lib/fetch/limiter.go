package fetch

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces out requests that actually hit the network. Cache
// hits never pass through the limiter.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewFixedDelay returns a limiter that lets the first request through
// immediately and one more every interval after that. A zero interval
// imposes no delay.
func NewFixedDelay(interval time.Duration) Limiter {
	return rate.NewLimiter(rate.Every(interval), 1)
}

type nopLimiter struct{}

func (nopLimiter) Wait(ctx context.Context) error { return nil }

// NopLimiter never waits. Used in tests.
var NopLimiter Limiter = nopLimiter{}
