package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Retry budget for mutation transactions. The advisory lock on audit appends
// plus row updates in one transaction can deadlock against a concurrent
// mutator; the loser is retried from scratch.
const (
	mutationMaxRetries = 3
	mutationRetryBase  = 25 * time.Millisecond
)

// mutate runs fn under WithRetry so a mutation transaction survives transient
// serialization and deadlock failures. fn must be restartable from scratch:
// it is re-run whole, including its Begin/Commit.
func mutate[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var out T
	err := WithRetry(ctx, mutationMaxRetries, mutationRetryBase, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// isRetriable returns true for Postgres error codes that indicate a transient conflict.
func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001": // serialization_failure
		return true
	case "40P01": // deadlock_detected
		return true
	default:
		return false
	}
}

// WithRetry executes fn, retrying up to maxRetries times on serialization or deadlock errors.
// Retries use jittered exponential backoff starting at baseDelay.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}
