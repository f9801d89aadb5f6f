package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrVersionConflict: the conditional update matched no row because the
	// supplied version is stale. Caller must re-read and retry.
	ErrVersionConflict = errors.New("order update failed: version conflict")
	// ErrDuplicateOrder: order number already persisted. The unique index is
	// the idempotency safety net for reprocessed messages.
	ErrDuplicateOrder = errors.New("order already exists")
	ErrInvalidStatus  = errors.New("invalid order status")
)

type Repo struct {
	DB    *pgxpool.Pool
	Retry RetryPolicy
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{DB: db, Retry: DefaultRetryPolicy}
}

const orderColumns = `id, order_number, customer_id, store_id, channel, order_type, status,
	subtotal_amount, tax_amount, shipping_amount, discount_amount, total_amount, currency_code,
	customer_info, billing_address, shipping_address, fulfillment_type, ship_from_location_id,
	carrier, service_level, requested_delivery_date, promised_delivery_date,
	created_at, updated_at, created_by, updated_by, version`

// CreateOrder persists the order, its line items and the initial PENDING
// history row as one atomic unit. Order number is generated when absent:
// OM + yymmdd + 6-digit per-day sequence.
func (r *Repo) CreateOrder(ctx context.Context, o *Order, items []LineItem) error {
	return RunWithRetry(ctx, r.Retry, func(ctx context.Context) error {
		tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		if o.OrderNumber == "" {
			o.OrderNumber, err = nextOrderNumber(ctx, tx, time.Now().UTC())
			if err != nil {
				return err
			}
		}
		if o.Status == "" {
			o.Status = StatusPending
		}
		o.Version = 1

		RecomputeTotals(o, items)

		_, err = tx.Exec(ctx, `
			INSERT INTO orders (id, order_number, customer_id, store_id, channel, order_type, status,
				subtotal_amount, tax_amount, shipping_amount, discount_amount, total_amount, currency_code,
				customer_info, billing_address, shipping_address, fulfillment_type, ship_from_location_id,
				carrier, service_level, requested_delivery_date, promised_delivery_date,
				created_by, updated_by, version)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
			o.ID, o.OrderNumber, o.CustomerID, o.StoreID, o.Channel, o.OrderType, o.Status,
			o.SubtotalAmount, o.TaxAmount, o.ShippingAmount, o.DiscountAmount, o.TotalAmount, o.CurrencyCode,
			o.CustomerInfo, o.BillingAddress, o.ShippingAddress, o.FulfillmentType, o.ShipFromLocationID,
			o.Carrier, o.ServiceLevel, o.RequestedDelivery, o.PromisedDelivery,
			o.CreatedBy, o.UpdatedBy, o.Version)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateOrder
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i := range items {
			li := &items[i]
			if li.ID == "" {
				li.ID = uuid.NewString()
			}
			li.OrderID = o.ID
			if li.LineStatus == "" {
				li.LineStatus = StatusPending
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO order_line_items (id, order_id, line_number, sku, item_id, item_name,
					ordered_quantity, unit_price, list_price, discount_amount, tax_amount, line_total,
					unit_of_measure, line_status, created_by, updated_by)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
				li.ID, li.OrderID, li.LineNumber, li.SKU, li.ItemID, li.ItemName,
				li.OrderedQuantity, li.UnitPrice, li.ListPrice, li.DiscountAmount, li.TaxAmount, li.LineTotal,
				li.UnitOfMeasure, li.LineStatus, o.CreatedBy, o.UpdatedBy)
			if err != nil {
				if isUniqueViolation(err) {
					return ErrDuplicateOrder
				}
				return fmt.Errorf("insert line item %d: %w", li.LineNumber, err)
			}
		}

		// creation entry: fromStatus = NULL
		if err := appendHistory(ctx, tx, o.ID, nil, o.Status, o.CreatedBy, "order created"); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// UpdateStatus applies an optimistic-concurrency status transition: the update
// is conditioned on the caller's observed version, bumps it by exactly 1 and
// appends the audit row in the same transaction. A stale version mutates
// nothing and returns ErrVersionConflict.
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, to Status, expectedVersion int, by, reason string) (*Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, to)
	}

	var out *Order
	err := RunWithRetry(ctx, r.Retry, func(ctx context.Context) error {
		tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		var from Status
		var curVersion int
		err = tx.QueryRow(ctx, `SELECT status, version FROM orders WHERE id=$1`, orderID).
			Scan(&from, &curVersion)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read order: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE orders SET status=$2, version=version+1, updated_by=$3, updated_at=now()
			WHERE id=$1 AND version=$4`,
			orderID, to, by, expectedVersion)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}

		if err := appendHistory(ctx, tx, orderID, &from, to, by, reason); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}

		out, err = r.GetOrder(ctx, orderID)
		return err
	})
	return out, err
}

// UpsertLineItem inserts or replaces one line and recomputes the order totals
// in the same transaction. Status updates never touch the totals; this is the
// only mutation path for them.
func (r *Repo) UpsertLineItem(ctx context.Context, orderID string, li LineItem, by string) error {
	return RunWithRetry(ctx, r.Retry, func(ctx context.Context) error {
		tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if li.ID == "" {
			li.ID = uuid.NewString()
		}
		if li.LineStatus == "" {
			li.LineStatus = StatusPending
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO order_line_items (id, order_id, line_number, sku, item_id, item_name,
				ordered_quantity, unit_price, list_price, discount_amount, tax_amount, line_total,
				unit_of_measure, line_status, created_by, updated_by)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
			ON CONFLICT (order_id, line_number) DO UPDATE SET
				sku=EXCLUDED.sku, item_id=EXCLUDED.item_id, item_name=EXCLUDED.item_name,
				ordered_quantity=EXCLUDED.ordered_quantity, unit_price=EXCLUDED.unit_price,
				list_price=EXCLUDED.list_price, discount_amount=EXCLUDED.discount_amount,
				tax_amount=EXCLUDED.tax_amount, line_total=EXCLUDED.line_total,
				updated_by=EXCLUDED.updated_by, updated_at=now()`,
			li.ID, orderID, li.LineNumber, li.SKU, li.ItemID, li.ItemName,
			li.OrderedQuantity, li.UnitPrice, li.ListPrice, li.DiscountAmount, li.TaxAmount, li.LineTotal,
			li.UnitOfMeasure, li.LineStatus, by)
		if err != nil {
			return fmt.Errorf("upsert line item: %w", err)
		}

		if err := recomputeTotalsTx(ctx, tx, orderID, by); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// DeleteLineItem removes one line and recomputes totals atomically.
func (r *Repo) DeleteLineItem(ctx context.Context, orderID string, lineNumber int, by string) error {
	return RunWithRetry(ctx, r.Retry, func(ctx context.Context) error {
		tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		tag, err := tx.Exec(ctx,
			`DELETE FROM order_line_items WHERE order_id=$1 AND line_number=$2`, orderID, lineNumber)
		if err != nil {
			return fmt.Errorf("delete line item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if err := recomputeTotalsTx(ctx, tx, orderID, by); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// recomputeTotalsTx keeps subtotal/total a deterministic function of the line
// items plus order-level tax/shipping/discount.
func recomputeTotalsTx(ctx context.Context, tx pgx.Tx, orderID, by string) error {
	_, err := tx.Exec(ctx, `
		UPDATE orders SET
			subtotal_amount = li.subtotal,
			total_amount    = li.subtotal + tax_amount + shipping_amount - discount_amount,
			updated_by      = $2,
			updated_at      = now()
		FROM (
			SELECT COALESCE(SUM(line_total), 0) AS subtotal
			FROM order_line_items WHERE order_id = $1
		) li
		WHERE id = $1`, orderID, by)
	if err != nil {
		return fmt.Errorf("recompute totals: %w", err)
	}
	return nil
}

func appendHistory(ctx context.Context, tx pgx.Tx, orderID string, from *Status, to Status, by, reason string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, status_changed_at, changed_by, change_reason, change_source)
		VALUES ($1, $2, $3, $4, now(), $5, $6, 'SYSTEM')`,
		uuid.NewString(), orderID, from, to, by, reason)
	if err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}

func (r *Repo) GetOrder(ctx context.Context, id string) (*Order, error) {
	return r.scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
}

func (r *Repo) GetByOrderNumber(ctx context.Context, orderNumber string) (*Order, error) {
	return r.scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number=$1`, orderNumber))
}

func (r *Repo) scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.StoreID, &o.Channel, &o.OrderType, &o.Status,
		&o.SubtotalAmount, &o.TaxAmount, &o.ShippingAmount, &o.DiscountAmount, &o.TotalAmount, &o.CurrencyCode,
		&o.CustomerInfo, &o.BillingAddress, &o.ShippingAddress, &o.FulfillmentType, &o.ShipFromLocationID,
		&o.Carrier, &o.ServiceLevel, &o.RequestedDelivery, &o.PromisedDelivery,
		&o.CreatedAt, &o.UpdatedAt, &o.CreatedBy, &o.UpdatedBy, &o.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) LineItems(ctx context.Context, orderID string) ([]LineItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, line_number, sku, item_id, item_name, ordered_quantity,
			unit_price, list_price, discount_amount, tax_amount, line_total, unit_of_measure, line_status
		FROM order_line_items WHERE order_id=$1 ORDER BY line_number`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LineItem
	for rows.Next() {
		var li LineItem
		if err := rows.Scan(&li.ID, &li.OrderID, &li.LineNumber, &li.SKU, &li.ItemID, &li.ItemName,
			&li.OrderedQuantity, &li.UnitPrice, &li.ListPrice, &li.DiscountAmount, &li.TaxAmount,
			&li.LineTotal, &li.UnitOfMeasure, &li.LineStatus); err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

// StatusHistory returns the audit log for one order, oldest first.
func (r *Repo) StatusHistory(ctx context.Context, orderID string) ([]StatusHistoryEntry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, from_status, to_status, status_changed_at, changed_by, change_reason, change_source
		FROM order_status_history WHERE order_id=$1 ORDER BY status_changed_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusHistoryEntry
	for rows.Next() {
		var h StatusHistoryEntry
		if err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus, &h.StatusChangedAt,
			&h.ChangedBy, &h.ChangeReason, &h.ChangeSource); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
