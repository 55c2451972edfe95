package util

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is reported by RetryNonEmpty when every attempt returned no rows.
var ErrEmpty = errors.New("empty result")

// Backoff selects how the pause between attempts evolves.
type Backoff int

const (
	// BackoffFixed waits Delay between every pair of attempts.
	BackoffFixed Backoff = iota
	// BackoffExponential doubles the pause after each failure.
	BackoffExponential
)

// RetryPolicy describes how often and how patiently an operation is retried.
type RetryPolicy struct {
	// Attempts is the total number of calls; values below 1 mean 1.
	Attempts int
	Delay    time.Duration
	Backoff  Backoff
	// OnFailure, when set, observes every failed attempt (1-based).
	OnFailure func(attempt int, err error)
}

// Retry calls fn until it succeeds, the attempts run out or ctx is done.
// It returns nil on success, ctx.Err() when cancelled while waiting, and the
// last error otherwise. There is no pause after the final attempt.
func Retry(ctx context.Context, p RetryPolicy, fn func() error) error {
	attempts := max(p.Attempts, 1)
	delay := p.Delay
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if p.OnFailure != nil {
			p.OnFailure(attempt, err)
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if p.Backoff == BackoffExponential {
			delay *= 2
		}
	}
	return err
}

// RetryNonEmpty is Retry for calls that return rows: an empty result counts
// as a failed attempt and is reported as ErrEmpty.
func RetryNonEmpty[T any](ctx context.Context, p RetryPolicy, fn func() ([]T, error)) ([]T, error) {
	var rows []T
	err := Retry(ctx, p, func() error {
		got, err := fn()
		if err != nil {
			return err
		}
		if len(got) == 0 {
			return ErrEmpty
		}
		rows = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
