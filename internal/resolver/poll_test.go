package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoll_SucceedsOnAttempt(t *testing.T) {
	v, attempts, err := Poll(context.Background(), Budget{Attempts: 10, Interval: time.Millisecond},
		func(_ context.Context, attempt int) (string, bool, error) {
			if attempt == 3 {
				return "done", true, nil
			}

			return "", false, nil
		})

	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, 3, attempts)
}

func TestPoll_NeverExceedsBudget(t *testing.T) {
	calls := 0

	_, attempts, err := Poll(context.Background(), Budget{Attempts: 5, Interval: time.Millisecond},
		func(context.Context, int) (int, bool, error) {
			calls++

			return 0, false, nil
		})

	require.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, 5, calls)
}

func TestPoll_SwallowsTransientErrors(t *testing.T) {
	v, attempts, err := Poll(context.Background(), Budget{Attempts: 5, Interval: time.Millisecond},
		func(_ context.Context, attempt int) (int, bool, error) {
			if attempt < 4 {
				return 0, false, errors.New("connection reset")
			}

			return 42, true, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 4, attempts)
}

func TestPoll_PermanentErrorStops(t *testing.T) {
	boom := errors.New("unauthorized")
	calls := 0

	_, attempts, err := Poll(context.Background(), Budget{Attempts: 5, Interval: time.Millisecond},
		func(context.Context, int) (int, bool, error) {
			calls++

			return 0, false, Permanent(boom)
		})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.NoError(t, Permanent(nil))
}

func TestPoll_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	_, _, err := Poll(ctx, Budget{Attempts: 100, Interval: time.Hour},
		func(context.Context, int) (int, bool, error) {
			cancel()

			return 0, false, nil
		})

	require.ErrorIs(t, err, context.Canceled)
}
