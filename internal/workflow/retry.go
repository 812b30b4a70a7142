package workflow

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy governs how a failing event is rescheduled before it is
// moved to failed.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 5 * time.Second,
		MaxInterval:     10 * time.Minute,
		Multiplier:      2.0,
		MaxAttempts:     5,
	}
}

// Delay returns the jittered backoff before the given retry, counting
// from zero completed attempts.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.Multiplier = p.Multiplier
	delay := bo.NextBackOff()
	for i := 0; i < attempts; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

// Exhausted reports whether the event has used up its attempts.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
