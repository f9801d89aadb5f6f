package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const orderNumberPrefix = "OM"

// nextOrderNumber builds OM + yymmdd + 6-digit zero-padded per-day sequence,
// e.g. OM241212000001. Uniqueness is enforced by the index on order_number;
// a concurrent insert of the same sequence surfaces as ErrDuplicateOrder and
// the caller's retry picks the next value.
func nextOrderNumber(ctx context.Context, tx pgx.Tx, now time.Time) (string, error) {
	datePart := now.Format("060102")
	var next int
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(CAST(RIGHT(order_number, 6) AS INTEGER)), 0) + 1
		FROM orders WHERE order_number LIKE $1`,
		orderNumberPrefix+datePart+"%").Scan(&next)
	if err != nil {
		return "", fmt.Errorf("order number sequence: %w", err)
	}
	return FormatOrderNumber(now, next), nil
}

// FormatOrderNumber is the pure formatting half of order-number generation,
// kept separate so it can be exercised without a database.
func FormatOrderNumber(now time.Time, seq int) string {
	return fmt.Sprintf("%s%s%06d", orderNumberPrefix, now.Format("060102"), seq)
}
