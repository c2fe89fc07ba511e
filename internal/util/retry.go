package util

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrExhausted is returned once every attempt of a Backoff has failed
var ErrExhausted = errors.New("retry attempts exhausted")

// Backoff describes how an operation is retried. Delays double from
// Initial up to Max.
type Backoff struct {
	Attempts int // total tries including the first; values below 1 mean 1
	Initial  time.Duration
	Max      time.Duration
	Jitter   float64 // fraction of each delay that is randomized
}

// DialBackoff is used when opening RPC endpoints
func DialBackoff() Backoff {
	return Backoff{Attempts: 4, Initial: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.1}
}

// ReadBackoff is used for eth_call reads against an open endpoint
func ReadBackoff() Backoff {
	return Backoff{Attempts: 3, Initial: 50 * time.Millisecond, Max: 500 * time.Millisecond, Jitter: 0.2}
}

// Delay returns the wait after the given failed attempt (1-based)
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt && (b.Max <= 0 || d < b.Max); i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 && d > 0 {
		spread := float64(d) * b.Jitter
		d = time.Duration(float64(d) - spread + rand.Float64()*2*spread)
	}
	return d
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Do stops immediately and returns it
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, fails permanently, the context ends or the
// attempts run out. It returns how many times fn ran.
func Do(ctx context.Context, b Backoff, fn func() error) (int, error) {
	_, n, err := DoValue(ctx, b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return n, err
}

// DoValue is Do for functions that produce a value
func DoValue[T any](ctx context.Context, b Backoff, fn func() (T, error)) (T, int, error) {
	var zero T
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for n := 1; ; n++ {
		v, err := fn()
		if err == nil {
			return v, n, nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return zero, n, p.err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, n, err
		}
		if n >= attempts {
			if attempts == 1 {
				return zero, n, err
			}
			return zero, n, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, n, err)
		}

		timer := time.NewTimer(b.Delay(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, n, errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
	}
}
