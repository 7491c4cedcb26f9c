package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoStopsAfterAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), Policy{Attempts: 3}, func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDoSucceedsMidway(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3}, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoNonRetryableReturnsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := Do(context.Background(), Policy{
		Attempts:  5,
		Retryable: func(err error) bool { return !errors.Is(err, fatal) },
	}, func() error {
		calls++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDoDelaySeesLastError(t *testing.T) {
	slow := errors.New("slow path")
	fast := errors.New("fast path")
	var seen []error
	calls := 0
	_ = Do(context.Background(), Policy{
		Attempts: 3,
		Delay: func(err error, attempt int) time.Duration {
			seen = append(seen, err)
			return 0
		},
	}, func() error {
		calls++
		if calls == 1 {
			return slow
		}
		return fast
	})
	require.Len(t, seen, 2)
	assert.ErrorIs(t, seen[0], slow)
	assert.ErrorIs(t, seen[1], fast)
}

func TestStepsSchedule(t *testing.T) {
	delay := Steps(2*time.Second, 4*time.Second)
	assert.Equal(t, 2*time.Second, delay(nil, 0))
	assert.Equal(t, 4*time.Second, delay(nil, 1))
	// за пределами расписания держим последнюю паузу
	assert.Equal(t, 4*time.Second, delay(nil, 5))
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Policy{
		Attempts: 3,
		Delay: func(error, int) time.Duration { return time.Hour },
	}, func() error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "no second attempt after cancellation")
}
