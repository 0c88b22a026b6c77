package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transportError struct{ n int }

func (e *transportError) Error() string { return "transport failure" }

// recordingSleep captures pauses instead of sleeping.
func recordingSleep(pauses *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*pauses = append(*pauses, d)
		return nil
	}
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	var pauses []time.Duration
	calls := 0
	p := Policy{MaxAttempts: 3, Backoff: Fixed(2 * time.Second), Sleep: recordingSleep(&pauses)}

	res := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &transportError{n: calls}
		}
		return "third", nil
	})

	require.True(t, res.OK())
	assert.Equal(t, "third", res.Value)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, pauses)
}

func TestDo_ExhaustedReturnsFinalError(t *testing.T) {
	var pauses []time.Duration
	calls := 0
	p := Policy{MaxAttempts: 3, Backoff: Fixed(time.Second), Sleep: recordingSleep(&pauses)}

	res := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, &transportError{n: calls}
	})

	require.Error(t, res.Err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, pauses, 2)

	var te *transportError
	require.True(t, errors.As(res.Err, &te))
	assert.Equal(t, 3, te.n, "the final attempt's error is surfaced")
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	stop := errors.New("bad request")
	p := Policy{
		MaxAttempts: 5,
		Sleep:       recordingSleep(new([]time.Duration)),
		Retryable:   func(err error) bool { return !errors.Is(err, stop) },
	}

	res := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, stop
	})

	assert.ErrorIs(t, res.Err, stop)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryReportsRemaining(t *testing.T) {
	var remaining []int
	p := Policy{
		MaxAttempts: 3,
		Sleep:       recordingSleep(new([]time.Duration)),
		OnRetry:     func(_ int, left int, _ error) { remaining = append(remaining, left) },
	}

	Do(context.Background(), p, func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})

	assert.Equal(t, []int{2, 1}, remaining)
}

func TestDo_ContextCancelledDuringPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 3, Backoff: Fixed(time.Hour)}

	res := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	})

	assert.Error(t, res.Err)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	res := Do(context.Background(), Policy{}, func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 7, res.Value)
}
