// Package scheduler contains the orchestration core of the daemon: the
// bounded retry helper, the refresh cycle, the tick loop and the lifecycle
// controller that owns startup and shutdown.
package scheduler

import (
	"context"
	"time"

	applog "inkcal/internal/log"
)

// Operation is a single retryable unit of work. A nil return means success.
type Operation func(ctx context.Context) error

// Retrier retries an operation with exponential backoff. The delay before
// retry n is InitialDelay * BackoffFactor^(n-1). It never mutates shared
// state and never lets the operation's error escape: callers get a plain
// success/failure answer.
type Retrier struct {
	// MaxRetries is the number of retries after the first attempt, so the
	// total attempt count is MaxRetries+1.
	MaxRetries int
	// InitialDelay is the wait before the first retry. Must be > 0.
	InitialDelay time.Duration
	// BackoffFactor multiplies the delay after each failed attempt.
	// Must be >= 1.
	BackoffFactor float64

	// sleep is swappable for tests. The default waits on a timer or ctx,
	// whichever fires first, and reports whether the full delay elapsed.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewRetrier builds a Retrier, clamping out-of-range inputs to the nearest
// valid value.
func NewRetrier(maxRetries int, initialDelay time.Duration, backoffFactor float64) *Retrier {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if initialDelay <= 0 {
		initialDelay = time.Second
	}
	if backoffFactor < 1 {
		backoffFactor = 1
	}
	return &Retrier{
		MaxRetries:    maxRetries,
		InitialDelay:  initialDelay,
		BackoffFactor: backoffFactor,
		sleep:         sleepCtx,
	}
}

// Do runs op until it succeeds or the retry budget is exhausted. Errors are
// logged and swallowed; cancellation of ctx during a backoff wait counts as
// failure.
func (r *Retrier) Do(ctx context.Context, op Operation) bool {
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	delay := r.InitialDelay
	attempts := r.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		err := runSafely(ctx, op)
		if err == nil {
			return true
		}

		if attempt == attempts {
			applog.Warn().Err(err).Int("attempts", attempts).Msg("retry budget exhausted")
			return false
		}

		applog.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("operation failed, backing off")

		if !sleep(ctx, delay) {
			return false
		}
		delay = time.Duration(float64(delay) * r.BackoffFactor)
	}
	return false
}

// runSafely invokes op, converting a panic into an error so one misbehaving
// attempt is indistinguishable from an ordinary failure.
func runSafely(ctx context.Context, op Operation) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError(rec)
		}
	}()
	return op(ctx)
}

// sleepCtx waits for d or until ctx is done, whichever comes first, and
// reports whether the full delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
