package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend unavailable")

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var changes []State
	cb := NewCircuitBreaker("remote", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange: func(_ string, _, to State) {
			changes = append(changes, to)
		},
	})
	now := time.Unix(1000, 0)
	cb.now = func() time.Time { return now }

	fail := func() error { return errBackend }
	assert.ErrorIs(t, cb.Execute(fail), errBackend)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(fail), errBackend)
	assert.Equal(t, StateOpen, cb.GetState())

	calls := 0
	err := cb.Execute(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls)

	now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, changes)
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("remote", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	now := time.Unix(0, 0)
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errBackend })
	now = now.Add(2 * time.Second)
	_ = cb.Execute(func() error { return errBackend })
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	errMiss := errors.New("miss")
	cb := NewCircuitBreaker("remote", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return err != nil && !errors.Is(err, errMiss) },
	})
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return errMiss }), errMiss)
	}
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, "remote", cb.Name())
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var attempts atomic.Int32
	err := Retry(context.Background(), "sink", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func(context.Context) error {
		if attempts.Add(1) < 3 {
			return errBackend
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetryExhausts(t *testing.T) {
	err := Retry(context.Background(), "sink", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func(context.Context) error {
		return errBackend
	})
	assert.ErrorIs(t, err, errBackend)
	assert.ErrorContains(t, err, "all 2 attempts failed for sink")
}

func TestRetryStopsOnPermanentAndNonRetryable(t *testing.T) {
	var attempts int
	err := Retry(context.Background(), "sink", RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}, func(context.Context) error {
		attempts++
		return Permanent(errBackend)
	})
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, 1, attempts)

	attempts = 0
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, Retryable: func(error) bool { return false }}
	err = Retry(context.Background(), "sink", cfg, func(context.Context) error {
		attempts++
		return errBackend
	})
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, 1, attempts)
	assert.Nil(t, Permanent(nil))
}

func TestRetryAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Retry(ctx, "sink", RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}, func(context.Context) error {
		cancel()
		return errBackend
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffIsCapped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}.withDefaults()
	assert.Equal(t, time.Second, backoff(1, cfg))
	assert.Equal(t, 2*time.Second, backoff(2, cfg))
	assert.Equal(t, 3*time.Second, backoff(5, cfg))
}

func TestWithTimeout(t *testing.T) {
	got, err := WithTimeout(context.Background(), time.Second, "search", func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	_, err = WithTimeout(context.Background(), 10*time.Millisecond, "search", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return 0, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = WithTimeout(ctx, time.Second, "search", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)

	got, err = WithTimeout(context.Background(), 0, "search", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}
