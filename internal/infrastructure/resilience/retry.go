package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxShift caps the exponent so the delay never overflows time.Duration
const maxShift = 30

// Policy configures bounded retries
type Policy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// BackoffBase is the delay before the first retry; it doubles each retry
	BackoffBase time.Duration
	// Retryable selects errors that trigger a retry; defaults to IsRetryable
	Retryable func(error) bool
	// Jitter is added to every delay; defaults to uniform [0, 1s)
	Jitter func() time.Duration
	// OnRetry is called before sleeping for retry number attempt
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns three retries starting at one second
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  3,
		BackoffBase: time.Second,
	}
}

// UniformJitter returns a random duration in [0, 1s)
func UniformJitter() time.Duration {
	return time.Duration(rand.Float64() * float64(time.Second))
}

// NoJitter disables jitter
func NoJitter() time.Duration { return 0 }

// exponentialJitter yields base*2^(k-1) + jitter for retry k
type exponentialJitter struct {
	base    time.Duration
	jitter  func() time.Duration
	retries int
}

func (e *exponentialJitter) NextBackOff() time.Duration {
	e.retries++
	shift := e.retries - 1
	if shift > maxShift {
		shift = maxShift
	}
	return e.base*time.Duration(1<<shift) + e.jitter()
}

func (e *exponentialJitter) Reset() {
	e.retries = 0
}

// Do invokes op up to MaxRetries+1 times. Non-retryable errors return at
// once; on exhaustion the last error is returned as op produced it.
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error)) (T, error) {
	if policy.MaxRetries <= 0 {
		return op(ctx)
	}

	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	jitter := policy.Jitter
	if jitter == nil {
		jitter = UniformJitter
	}

	var b backoff.BackOff = &exponentialJitter{base: policy.BackoffBase, jitter: jitter}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxRetries)), ctx)

	attempt := 0
	operation := func() (T, error) {
		attempt++
		result, err := op(ctx)
		if err != nil && !retryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	notify := func(err error, delay time.Duration) {
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err, delay)
		}
	}

	return backoff.RetryNotifyWithData(operation, b, notify)
}
