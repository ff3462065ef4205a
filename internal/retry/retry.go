// Package retry wraps remote calls in a bounded exponential backoff policy.
// The policy only retries errors its Transient predicate accepts; everything
// else is returned to the caller immediately.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded exponential backoff schedule. The delay before
// attempt k+1 is InitialDelay * Factor^(k-1), capped at MaxDelay. A Policy is
// a value; it is safe to share and reuse.
type Policy struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	MaxAttempts  uint64

	// Transient decides whether an error is retriable. A nil predicate
	// retries every error.
	Transient func(error) bool
}

// DefaultPolicy returns the schedule used for insights API calls when no
// configuration overrides it: 5 attempts starting at 1s with factor 5.
func DefaultPolicy(transient func(error) bool) Policy {
	return Policy{
		InitialDelay: time.Second,
		Factor:       5,
		MaxDelay:     time.Minute,
		MaxAttempts:  5,
		Transient:    transient,
	}
}

// Do runs op, retrying transient failures per the policy. It returns nil on
// the first success, the error unchanged as soon as a non-transient error is
// seen, or the last transient error once attempts are exhausted. Context
// cancellation stops the schedule between attempts.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Factor
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // attempt count is the only bound

	wrapped := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Transient != nil && !p.Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx))
}
