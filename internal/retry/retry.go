package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Policy controls how many times Do calls fn and how long it waits in between.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Classify reports whether err is worth another attempt.
	// Nil means Classify(err, true).
	Classify func(err error) bool
	// OnRetry is called before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Error is returned when Do gives up.
type Error struct {
	Attempts int
	Terminal bool
	Err      error
}

func (e *Error) Error() string {
	kind := "exhausted"
	if e.Terminal {
		kind = "terminal"
	}
	return fmt.Sprintf("%s after %d attempt(s): %v", kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var retryableKeywords = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"connection aborted",
	"broken pipe",
	"eof",
	"too many requests",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"temporary",
	"network is unreachable",
}

var terminalKeywords = []string{
	"unauthorized",
	"forbidden",
	"not found",
	"bad request",
	"file too large",
	"file is too big",
	"request entity too large",
	"malformed",
	"invalid file",
	"permission denied",
}

// Classify matches err against the curated keyword sets. Terminal keywords
// win over retryable ones; context cancellation is always terminal. Errors
// matching neither set get unknownDefault.
func Classify(err error, unknownDefault bool) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range terminalKeywords {
		if strings.Contains(msg, kw) {
			return false
		}
	}
	for _, kw := range retryableKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return unknownDefault
}

// Do runs fn until it succeeds, the policy gives up, or ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	classify := p.Classify
	if classify == nil {
		classify = func(err error) bool { return Classify(err, true) }
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return zero, &Error{Attempts: attempt - 1, Terminal: true, Err: lastErr}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil || !classify(err) {
			return zero, &Error{Attempts: attempt, Terminal: true, Err: err}
		}
		if attempt == attempts {
			break
		}

		delay := backoffFor(p, attempt-1)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if werr := waitBackoff(ctx, delay); werr != nil {
			return zero, &Error{Attempts: attempt, Terminal: true, Err: err}
		}
	}
	return zero, &Error{Attempts: attempts, Err: lastErr}
}

// backoffFor doubles the initial delay per attempt, capped at MaxDelay.
func backoffFor(p Policy, attempt int) time.Duration {
	backoff := p.InitialDelay
	if backoff <= 0 {
		return 0
	}
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if p.MaxDelay > 0 && backoff > p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && backoff > p.MaxDelay {
		return p.MaxDelay
	}
	return backoff
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
