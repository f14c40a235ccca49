package classify

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/xray-classifier/pkg/types"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestRetryPolicy_Waits(t *testing.T) {
	tests := []struct {
		name   string
		policy RetryPolicy
		want   []time.Duration
	}{
		{
			name:   "defaults",
			policy: DefaultRetryPolicy(),
			want:   []time.Duration{ms(2000), ms(3000), ms(4500), ms(6750), ms(10125)},
		},
		{
			name:   "doubling",
			policy: RetryPolicy{MaxRetries: 4, InitialDelay: ms(1000), BackoffFactor: 2},
			want:   []time.Duration{ms(1000), ms(2000), ms(4000), ms(8000)},
		},
		{
			name:   "rounds each step to whole milliseconds",
			policy: RetryPolicy{MaxRetries: 6, InitialDelay: ms(1000), BackoffFactor: 1.5},
			want:   []time.Duration{ms(1000), ms(1500), ms(2250), ms(3375), ms(5063), ms(7595)},
		},
		{
			name:   "no retries",
			policy: RetryPolicy{MaxRetries: 0, InitialDelay: ms(1000), BackoffFactor: 2},
			want:   []time.Duration{},
		},
		{
			name:   "constant delay",
			policy: RetryPolicy{MaxRetries: 3, InitialDelay: ms(250), BackoffFactor: 1},
			want:   []time.Duration{ms(250), ms(250), ms(250)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Waits())
		})
	}
}

func TestRetryPolicy_WaitsFollowGeometricGrowth(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 8, InitialDelay: ms(500), BackoffFactor: 2}
	for k, wait := range policy.Waits() {
		want := float64(policy.InitialDelay) * math.Pow(policy.BackoffFactor, float64(k))
		assert.Equal(t, time.Duration(want), wait, "wait before retry %d", k+1)
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultRetryPolicy().Validate())
	assert.NoError(t, RetryPolicy{MaxRetries: 0, InitialDelay: 0, BackoffFactor: 1}.Validate())

	assert.Error(t, RetryPolicy{MaxRetries: -1, InitialDelay: ms(10), BackoffFactor: 2}.Validate())
	assert.Error(t, RetryPolicy{MaxRetries: 1, InitialDelay: -ms(10), BackoffFactor: 2}.Validate())
	assert.Error(t, RetryPolicy{MaxRetries: 1, InitialDelay: ms(10), BackoffFactor: 0.5}.Validate())
	assert.Error(t, RetryPolicy{MaxRetries: 1, InitialDelay: ms(10), BackoffFactor: math.Inf(1)}.Validate())

	assert.NoError(t, RetryPolicy{MaxRetries: MaxRetriesLimit, InitialDelay: ms(10), BackoffFactor: 2}.Validate())
	assert.Error(t, RetryPolicy{MaxRetries: MaxRetriesLimit + 1, InitialDelay: ms(10), BackoffFactor: 2}.Validate())
	assert.Error(t, RetryPolicy{MaxRetries: 1 << 40, InitialDelay: time.Second, BackoffFactor: 2}.Validate())
}

func TestRetryPolicy_WaitsAreBounded(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 1 << 40, InitialDelay: time.Second, BackoffFactor: 2}

	waits := policy.Waits()

	assert.Len(t, waits, MaxRetriesLimit)
	assert.Equal(t, time.Second, waits[0])
	assert.Equal(t, time.Duration(math.MaxInt64), waits[MaxRetriesLimit-1])
}

func TestRetryPolicy_RoundsInitialDelay(t *testing.T) {
	tests := []struct {
		initial time.Duration
		want    []time.Duration
	}{
		{1500 * time.Microsecond, []time.Duration{ms(2), ms(3), ms(5)}},
		{1400 * time.Microsecond, []time.Duration{ms(1), ms(2), ms(3)}},
		{300 * time.Microsecond, []time.Duration{0, 0, 0}},
	}
	for _, tt := range tests {
		policy := RetryPolicy{MaxRetries: 3, InitialDelay: tt.initial, BackoffFactor: 1.5}
		assert.Equal(t, tt.want, policy.Waits(), "initial delay %v", tt.initial)
	}
}

func TestScaleDelay_Saturates(t *testing.T) {
	assert.Equal(t, time.Duration(math.MaxInt64), scaleDelay(time.Duration(math.MaxInt64/2), 4))
}

func TestRetry_CountsFailedAttempts(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: ms(10), BackoffFactor: 2}
	timer := newRecordingTimer()

	var attempts []int
	calls := 0
	_, err := policy.Retry(context.Background(), timer, func() (types.RawResponse, error) {
		calls++
		return nil, &TransportError{Message: "busy"}
	}, func(attempt int, _ time.Duration, _ error) {
		attempts = append(attempts, attempt)
	})

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{ms(10), ms(20), ms(40)}, timer.waits)
}

func TestRetry_ReturnsFirstSuccess(t *testing.T) {
	policy := DefaultRetryPolicy()
	timer := newRecordingTimer()

	raw, err := policy.Retry(context.Background(), timer, func() (types.RawResponse, error) {
		return types.RawResponse(`[]`), nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, types.RawResponse(`[]`), raw)
	assert.Empty(t, timer.waits)
}

func TestRetry_PermanentErrorStopsImmediately(t *testing.T) {
	policy := DefaultRetryPolicy()
	timer := newRecordingTimer()
	calls := 0

	_, err := policy.Retry(context.Background(), timer, func() (types.RawResponse, error) {
		calls++
		return nil, &MalformedResponseError{Reason: "bad"}
	}, nil)

	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.waits)
}

func TestRetry_DeadlineShorterThanWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Hour, BackoffFactor: 2}
	timer := newRecordingTimer()
	cause := &TransportError{Status: 503, Message: "loading"}

	_, err := policy.Retry(ctx, timer, func() (types.RawResponse, error) {
		return nil, cause
	}, nil)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.True(t, errors.Is(err, cause))
	assert.Empty(t, timer.waits)
}
