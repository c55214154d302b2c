package repo

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	defaultRetryAttempts = 5
	defaultRetryInitial  = 20 * time.Millisecond
	defaultRetryMax      = 500 * time.Millisecond
)

// IsTransient reports SQLite lock contention (BUSY/LOCKED), the only class
// of store error worth retrying. Sentinel outcomes are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConditionNotMet) || errors.Is(err, ErrUniqueViolation) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrReferenced) {
		return false
	}
	code, ok := sqliteCode(err)
	if !ok {
		return false
	}
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// WithRetry executes fn, retrying transient failures with exponential
// backoff bounded by r.Retry. Non-transient errors return immediately.
func (r Repo) WithRetry(ctx context.Context, fn func() error) error {
	attempts := r.Retry.MaxAttempts
	if attempts < 1 {
		attempts = defaultRetryAttempts
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitial
	if d := r.Retry.InitialInterval(); d > 0 {
		b.InitialInterval = d
	}
	b.MaxInterval = defaultRetryMax
	if d := r.Retry.MaxInterval(); d > 0 {
		b.MaxInterval = d
	}
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		if r.OnRetry != nil {
			r.OnRetry(err, wait)
		}
	})
}
