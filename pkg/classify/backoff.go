package classify

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/menta2k/xray-classifier/pkg/types"
)

// RetryPolicy bounds the repeated invocation of a transport session
type RetryPolicy struct {
	// MaxRetries is the number of retries allowed after the initial attempt
	MaxRetries int
	// InitialDelay is the wait before the first retry
	InitialDelay time.Duration
	// BackoffFactor multiplies the wait after every failed attempt
	BackoffFactor float64
}

// MaxRetriesLimit is the largest MaxRetries a policy accepts
const MaxRetriesLimit = 100

// DefaultRetryPolicy returns 5 retries starting at 2s and growing by 1.5x
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  2000 * time.Millisecond,
		BackoffFactor: 1.5,
	}
}

// Validate checks the policy parameters
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if p.MaxRetries > MaxRetriesLimit {
		return fmt.Errorf("max retries must not exceed %d", MaxRetriesLimit)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("initial delay must not be negative")
	}
	if p.BackoffFactor < 1 || math.IsInf(p.BackoffFactor, 0) {
		return fmt.Errorf("backoff factor must be a finite value >= 1")
	}
	return nil
}

// Waits returns every wait the policy performs against an always-failing remote,
// at most MaxRetriesLimit of them
func (p RetryPolicy) Waits() []time.Duration {
	b := &retryBackOff{policy: p}
	b.Reset()
	waits := make([]time.Duration, 0, min(max(p.MaxRetries, 0), MaxRetriesLimit))
	for len(waits) < MaxRetriesLimit {
		next := b.NextBackOff()
		if next == backoff.Stop {
			return waits
		}
		waits = append(waits, next)
	}
	return waits
}

// RetryState is the per-call progress of the retry loop
type RetryState struct {
	// Attempt counts failed invocations
	Attempt int
	// Delay is the wait applied after the next failure
	Delay time.Duration
}

// retryBackOff implements backoff.BackOff. The budget check runs after the
// failure is counted and before waiting, so MaxRetries=N allows N+1 invocations.
type retryBackOff struct {
	policy RetryPolicy
	state  RetryState
}

func (b *retryBackOff) Reset() {
	b.state = RetryState{Delay: scaleDelay(b.policy.InitialDelay, 1)}
}

func (b *retryBackOff) NextBackOff() time.Duration {
	b.state.Attempt++
	if b.state.Attempt > b.policy.MaxRetries {
		return backoff.Stop
	}
	wait := b.state.Delay
	b.state.Delay = scaleDelay(wait, b.policy.BackoffFactor)
	return wait
}

// scaleDelay multiplies d and rounds to the nearest millisecond. No upper cap.
func scaleDelay(d time.Duration, factor float64) time.Duration {
	ms := math.Round(float64(d) / float64(time.Millisecond) * factor)
	// saturate instead of overflowing int64 nanoseconds
	if ms >= float64(math.MaxInt64/int64(time.Millisecond)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

// RetryFunc is called before every backoff wait with the number of failed
// attempts so far, the wait about to happen and the failure that caused it
type RetryFunc func(attempt int, wait time.Duration, err error)

// Retry invokes op until it succeeds, fails with a non-retryable error, the
// policy is exhausted or ctx ends. A nil timer uses the wall clock.
func (p RetryPolicy) Retry(ctx context.Context, timer backoff.Timer, op func() (types.RawResponse, error), onRetry RetryFunc) (types.RawResponse, error) {
	b := &retryBackOff{policy: p}

	operation := func() (types.RawResponse, error) {
		raw, err := op()
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return raw, err
	}

	var notify backoff.Notify
	if onRetry != nil {
		notify = func(err error, wait time.Duration) {
			onRetry(b.state.Attempt, wait, err)
		}
	}

	raw, err := backoff.RetryNotifyWithTimerAndData(operation, backoff.WithContext(b, ctx), notify, timer)
	switch {
	case err == nil:
		return raw, nil
	case ctx.Err() != nil:
		return nil, &CanceledError{Err: ctx.Err()}
	case !retryable(err):
		return nil, err
	default:
		// Reached when the budget is spent, or when the caller's deadline
		// cannot fit the next wait.
		return nil, &RetryExhaustedError{Attempts: b.state.Attempt, Last: err}
	}
}
