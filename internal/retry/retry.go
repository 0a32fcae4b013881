package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultBaseDelay = 100 * time.Millisecond

// Policy bounds how often and how long a failing call is retried.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps the doubled delay. Zero leaves it uncapped.
	MaxDelay time.Duration
	// OnRetry runs before each wait with the 1-based number of the attempt
	// that failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, doubling the delay after each failure.
// A Permanent error is returned unwrapped at once; cancellation of ctx
// during a wait returns ctx.Err().
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	delay := p.BaseDelay
	if delay <= 0 {
		delay = defaultBaseDelay
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt > retries {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
