package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(delays *[]time.Duration) Option {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

func TestDoAttempt_LinearBackoff(t *testing.T) {
	var delays []time.Duration
	var attempts []int
	boom := errors.New("boom")

	r := GenerationRetrier(3, time.Second, noSleep(&delays))
	err := r.DoAttempt(context.Background(), func(_ context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestDo_StopsOnSuccess(t *testing.T) {
	var delays []time.Duration
	calls := 0

	err := New(WithMaxAttempts(5), WithJitter(0), noSleep(&delays)).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("flaky"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestDo_PermanentAndNonRetryable(t *testing.T) {
	calls := 0
	cause := errors.New("bad request")

	err := Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(cause)
	}, WithRetryAll())
	assert.Equal(t, cause, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = Do(context.Background(), func(context.Context) error {
		calls++
		return cause
	})
	assert.Equal(t, cause, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cause := errors.New("timeout")

	err := New(
		WithMaxAttempts(3),
		WithRetryAll(),
		WithSleep(func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		}),
	).Do(ctx, func(context.Context) error { return cause })

	assert.Equal(t, cause, err)
}

func TestDelay_CapsAtMax(t *testing.T) {
	r := New(WithInitialDelay(time.Second), WithMaxDelay(3*time.Second), WithJitter(0))
	assert.Equal(t, time.Second, r.Delay(1))
	assert.Equal(t, 2*time.Second, r.Delay(2))
	assert.Equal(t, 3*time.Second, r.Delay(5))
}

func TestDoWithData(t *testing.T) {
	v, err := DoWithData(context.Background(), func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
