package orders

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, TxOk, Classify(nil))
	assert.Equal(t, TxRetryable, Classify(&pgconn.PgError{Code: "40001"}))
	assert.Equal(t, TxRetryable, Classify(&pgconn.PgError{Code: "40P01"}))
	assert.Equal(t, TxFatal, Classify(&pgconn.PgError{Code: "23505"}))
	assert.Equal(t, TxFatal, Classify(errors.New("broken pipe")))

	wrapped := fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"})
	assert.Equal(t, TxRetryable, Classify(wrapped))
}

func TestRunWithRetryRecoversFromSerializationFailure(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}

	attempts := 0
	err := RunWithRetry(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRunWithRetryStopsOnFatal(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}

	attempts := 0
	fatal := errors.New("constraint violation")
	err := RunWithRetry(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestRunWithRetryExhaustsBudget(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond}

	attempts := 0
	err := RunWithRetry(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		return &pgconn.PgError{Code: "40P01"}
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts)

	var pgErr *pgconn.PgError
	assert.ErrorAs(t, err, &pgErr)
	assert.Contains(t, err.Error(), "retries exhausted")
}
