package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/italolelis/seedbox_resolver/internal/logctx"
)

// ErrBudgetExhausted is returned by Poll when no attempt succeeded.
var ErrBudgetExhausted = errors.New("poll budget exhausted")

// Budget bounds a poll: at most Attempts probes, Interval apart.
type Budget struct {
	Attempts int
	Interval time.Duration
}

// Probe runs one poll attempt (1-based). It returns true once the awaited
// condition holds. Errors are treated as transient unless wrapped with
// Permanent.
type Probe[T any] func(ctx context.Context, attempt int) (T, bool, error)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as fatal so Poll stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// Poll runs probe until it succeeds, fails permanently, ctx is done or the
// budget runs out. It returns the value, the number of attempts made and
// ErrBudgetExhausted on exhaustion.
func Poll[T any](ctx context.Context, b Budget, probe Probe[T]) (T, int, error) {
	var zero T

	logger := logctx.LoggerFromContext(ctx)

	for attempt := 1; attempt <= b.Attempts; attempt++ {
		v, ok, err := probe(ctx, attempt)

		var perm *permanentError

		switch {
		case errors.As(err, &perm):
			return zero, attempt, perm.err
		case err != nil:
			logger.DebugContext(ctx, "poll attempt failed, retrying", "attempt", attempt, "err", err)
		case ok:
			return v, attempt, nil
		}

		if attempt == b.Attempts {
			break
		}

		timer := time.NewTimer(b.Interval)

		select {
		case <-ctx.Done():
			timer.Stop()

			return zero, attempt, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, b.Attempts, ErrBudgetExhausted
}
