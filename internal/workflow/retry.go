package workflow

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// Retry defaults applied to every activity invocation.
const (
	DefaultRetryInitialInterval    = time.Second
	DefaultRetryBackoffCoefficient = 2.0
	defaultRetryMaxIntervalFactor  = 100
)

// MaxAttempts returns the attempt budget for an activity call at the given
// impact level. The budget is fixed by classification, not configurable per
// step:
//
//	accessory 1, write 2, critical 1, read 3, external 3, anything else 3
func MaxAttempts(level ImpactLevel) int {
	switch level {
	case ImpactAccessory, ImpactCritical:
		return 1
	case ImpactWrite:
		return 2
	default:
		return 3
	}
}

// RetryPolicy describes the exponential backoff between activity attempts.
type RetryPolicy struct {
	InitialInterval    time.Duration `json:"initial_interval"`
	BackoffCoefficient float64       `json:"backoff_coefficient"`
	MaximumInterval    time.Duration `json:"maximum_interval"`
}

// DefaultRetryPolicy returns the 1s / x2.0 policy, capped at 100s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:    DefaultRetryInitialInterval,
		BackoffCoefficient: DefaultRetryBackoffCoefficient,
		MaximumInterval:    defaultRetryMaxIntervalFactor * DefaultRetryInitialInterval,
	}
}

// normalized fills zero fields with defaults.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultRetryInitialInterval
	}
	if p.BackoffCoefficient < 1 {
		p.BackoffCoefficient = DefaultRetryBackoffCoefficient
	}
	if p.MaximumInterval <= 0 {
		p.MaximumInterval = defaultRetryMaxIntervalFactor * p.InitialInterval
	}
	return p
}

// NewBackOff returns an exponential backoff following p with no jitter and
// no elapsed-time limit: initial * coefficient^(n-1), capped at the maximum
// interval. The number of retries is bounded by the caller.
func (p RetryPolicy) NewBackOff() *backoff.ExponentialBackOff {
	p = p.normalized()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.BackoffCoefficient
	b.MaxInterval = p.MaximumInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// attemptBackOff bounds the policy's backoff to the attempt budget of level
// and stops it when ctx is done.
func (p RetryPolicy) attemptBackOff(ctx context.Context, level ImpactLevel) backoff.BackOffContext {
	retries := MaxAttempts(level) - 1
	return backoff.WithContext(backoff.WithMaxRetries(p.NewBackOff(), uint64(retries)), ctx)
}
