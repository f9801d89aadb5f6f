package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// TxOutcome tags a transaction attempt so the retry loop knows whether to
// run again. Serialization failures and deadlocks are worth retrying, anything
// else is surfaced immediately.
type TxOutcome int

const (
	TxOk TxOutcome = iota
	TxRetryable
	TxFatal
)

// RetryPolicy bounds the retry loop. Backoff grows linearly per attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 50 * time.Millisecond}

// Classify maps a postgres error to a retry outcome.
// 40001 = serialization_failure, 40P01 = deadlock_detected.
func Classify(err error) TxOutcome {
	if err == nil {
		return TxOk
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return TxRetryable
		}
	}
	return TxFatal
}

// RunWithRetry executes fn, retrying on transient store failures per policy.
// Exhausting the budget surfaces the last error as fatal.
func RunWithRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err = fn(ctx)
		if Classify(err) != TxRetryable {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * policy.Backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("transaction retries exhausted after %d attempts: %w", policy.MaxAttempts, err)
}
