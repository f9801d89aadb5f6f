package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkax "github.com/omnia-oms/go-order-ingest/internal/kafka"
	"github.com/omnia-oms/go-order-ingest/internal/orders"
	"github.com/omnia-oms/go-order-ingest/internal/redisx"
	"github.com/omnia-oms/go-order-ingest/internal/schema"
)

type fakeStore struct {
	created   []*orders.Order
	items     [][]orders.LineItem
	createErr error
	existing  *orders.Order
	conflicts int // UpdateStatus returns ErrVersionConflict this many times
}

func (f *fakeStore) CreateOrder(ctx context.Context, o *orders.Order, items []orders.LineItem) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, prev := range f.created {
		if prev.OrderNumber == o.OrderNumber {
			return orders.ErrDuplicateOrder
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Version = 1
	orders.RecomputeTotals(o, items)
	f.created = append(f.created, o)
	f.items = append(f.items, items)
	return nil
}

func (f *fakeStore) GetByOrderNumber(ctx context.Context, orderNumber string) (*orders.Order, error) {
	if f.existing != nil {
		return f.existing, nil
	}
	for _, o := range f.created {
		if o.OrderNumber == orderNumber {
			return o, nil
		}
	}
	return nil, orders.ErrNotFound
}

func (f *fakeStore) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	if f.existing != nil && f.existing.ID == id {
		return f.existing, nil
	}
	for _, o := range f.created {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, orders.ErrNotFound
}

func (f *fakeStore) UpdateStatus(ctx context.Context, orderID string, to orders.Status, expectedVersion int, by, reason string) (*orders.Order, error) {
	o, err := f.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if f.conflicts > 0 {
		f.conflicts--
		return nil, orders.ErrVersionConflict
	}
	if o.Version != expectedVersion {
		return nil, orders.ErrVersionConflict
	}
	o.Status = to
	o.Version++
	o.UpdatedBy = by
	return o, nil
}

type published struct {
	topic string
	event kafkax.Event
}

type fakePublisher struct {
	sent []published
	errs []error // consumed one per Send; a nil entry means success
}

func (f *fakePublisher) Send(ctx context.Context, topic string, event kafkax.Event, opts kafkax.SendOptions) error {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, published{topic: topic, event: event})
	return nil
}

func orderPayload(t *testing.T, mutate func(map[string]any)) []byte {
	t.Helper()
	addr := map[string]any{
		"street": "123 Main St", "city": "Springfield", "state": "IL",
		"postalCode": "62701", "country": "US",
	}
	p := map[string]any{
		"messageId":          uuid.NewString(),
		"timestamp":          "2026-08-27T10:00:00Z",
		"eventType":          schema.EventOrderCreated,
		"orderId":            uuid.NewString(),
		"orderNumber":        "OM260827000001",
		"customerId":         "CUST-1001",
		"storeId":            "STORE001",
		"channel":            "WEB",
		"shipFromLocationId": "LOC001",
		"orderData": map[string]any{
			"subtotalAmount": 35.00,
			"taxAmount":      2.00,
			"shippingAmount": 5.00,
			"discountAmount": 0,
			"totalAmount":    42.00,
			"customerInfo":   map[string]any{"name": "Jane Smith", "email": "jane@example.com"},
			"billingAddress":  addr,
			"shippingAddress": addr,
		},
		"lineItems": []any{
			map[string]any{
				"lineNumber": 1, "sku": "SKU-001", "itemId": "ITEM-001", "itemName": "Widget",
				"orderedQuantity": 2, "unitPrice": 10.00, "listPrice": 12.00,
				"discountAmount": 0, "taxAmount": 0, "lineTotal": 20.00,
			},
			map[string]any{
				"lineNumber": 2, "sku": "SKU-002", "itemId": "ITEM-002", "itemName": "Gadget",
				"orderedQuantity": 1, "unitPrice": 15.00, "listPrice": 15.00,
				"discountAmount": 0, "taxAmount": 0, "lineTotal": 15.00,
			},
		},
	}
	if mutate != nil {
		mutate(p)
	}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return raw
}

func newTestPipeline(t *testing.T) (*Pipeline, *fakeStore, *fakePublisher, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := &fakeStore{}
	pub := &fakePublisher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPipeline(schema.NewRegistry(), store, rdb, pub, log, "order-ingest-test",
		[]string{"LOC001", "LOC002", "STORE001", "DC001"})
	return p, store, pub, rdb
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	return decimal.RequireFromString(s)
}

func TestIngestPersistsAndEmitsEvents(t *testing.T) {
	p, store, pub, rdb := newTestPipeline(t)
	ctx := context.Background()

	var messageID string
	raw := orderPayload(t, func(m map[string]any) { messageID = m["messageId"].(string) })

	res, err := p.Ingest(ctx, raw)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "OM260827000001", res.OrderNumber)
	assert.NotEmpty(t, res.OrderID)

	require.Len(t, store.created, 1)
	o := store.created[0]
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.True(t, o.SubtotalAmount.Equal(decimalFromString(t, "35")), "subtotal %s", o.SubtotalAmount)
	assert.True(t, o.TotalAmount.Equal(decimalFromString(t, "42")), "total %s", o.TotalAmount)
	require.Len(t, store.items[0], 2)

	require.Len(t, pub.sent, 2)
	assert.Equal(t, schema.TopicOrderStatus, pub.sent[0].topic)
	status := pub.sent[0].event.(*schema.OrderStatusEvent)
	assert.Equal(t, string(orders.StatusPending), status.StatusData.ToStatus)
	assert.Equal(t, messageID, status.CorrelationID)
	assert.Equal(t, "LOC001", status.Key())

	assert.Equal(t, schema.TopicOrderValidation, pub.sent[1].topic)
	validation := pub.sent[1].event.(*schema.OrderValidationEvent)
	assert.Equal(t, "PASS", validation.ValidationData.ValidationResult)

	// dedup key recorded for the replay path
	val, err := rdb.Get(ctx, fmt.Sprintf(redisx.KeyDedupMessage, messageID)).Result()
	require.NoError(t, err)
	assert.Equal(t, o.ID, val)
}

func TestIngestRejectsSchemaViolationsWithoutSideEffects(t *testing.T) {
	p, store, pub, _ := newTestPipeline(t)

	raw := orderPayload(t, func(m map[string]any) { delete(m, "customerId") })

	res, err := p.Ingest(context.Background(), raw)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.NotEmpty(t, res.Errors)

	assert.Empty(t, store.created)
	assert.Empty(t, pub.sent)
}

func TestIngestRejectsBusinessViolationsAndPublishesFailure(t *testing.T) {
	p, store, pub, _ := newTestPipeline(t)

	raw := orderPayload(t, func(m map[string]any) { m["shipFromLocationId"] = "BOGUS" })

	res, err := p.Ingest(context.Background(), raw)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "shipFromLocationId", res.Errors[0].Field)

	assert.Empty(t, store.created, "invalid orders are never persisted")

	require.Len(t, pub.sent, 1)
	assert.Equal(t, schema.TopicOrderValidation, pub.sent[0].topic)
	validation := pub.sent[0].event.(*schema.OrderValidationEvent)
	assert.Equal(t, "FAIL", validation.ValidationData.ValidationResult)
	assert.Equal(t, schema.EventValidationFailed, validation.EventType)
	require.NotEmpty(t, validation.ValidationData.ValidationRules)
	assert.Equal(t, "FAIL", validation.ValidationData.ValidationRules[0].RuleResult)
}

func TestIngestCollectsEveryBusinessViolation(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)

	raw := orderPayload(t, func(m map[string]any) {
		m["shipFromLocationId"] = "BOGUS"
		od := m["orderData"].(map[string]any)
		od["totalAmount"] = 99.99 // breaks the total equation
		items := m["lineItems"].([]any)
		items[1].(map[string]any)["lineNumber"] = 1 // duplicate line number
	})

	res, err := p.Ingest(context.Background(), raw)
	require.NoError(t, err)
	assert.False(t, res.IsValid)

	fields := map[string]bool{}
	for _, fe := range res.Errors {
		fields[fe.Field] = true
	}
	assert.True(t, fields["shipFromLocationId"])
	assert.True(t, fields["orderData.totalAmount"])
	assert.True(t, fields["lineItems[1].lineNumber"])
}

func TestIngestSkipsReplayedMessage(t *testing.T) {
	p, store, pub, rdb := newTestPipeline(t)
	ctx := context.Background()

	var messageID string
	raw := orderPayload(t, func(m map[string]any) { messageID = m["messageId"].(string) })

	require.NoError(t, rdb.Set(ctx,
		fmt.Sprintf(redisx.KeyDedupMessage, messageID), "existing-order-id", redisx.TTLDedup).Err())

	res, err := p.Ingest(ctx, raw)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "existing-order-id", res.OrderID)

	assert.Empty(t, store.created)
	assert.Empty(t, pub.sent, "replays emit nothing")
}

func TestIngestTreatsDuplicateOrderAsIdempotentSuccess(t *testing.T) {
	p, store, pub, _ := newTestPipeline(t)

	store.createErr = orders.ErrDuplicateOrder
	store.existing = &orders.Order{
		ID: "existing-id", OrderNumber: "OM260827000001",
		Status: orders.StatusPending, Version: 1,
	}

	res, err := p.Ingest(context.Background(), orderPayload(t, nil))
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "existing-id", res.OrderID)

	// reaching the unique-index path means the first attempt never finished
	// announcing, so the status event goes out again
	require.Len(t, pub.sent, 2)
	assert.Equal(t, schema.TopicOrderStatus, pub.sent[0].topic)
	status := pub.sent[0].event.(*schema.OrderStatusEvent)
	assert.Equal(t, "existing-id", status.OrderID)
	assert.Equal(t, schema.TopicOrderValidation, pub.sent[1].topic)
}

func TestIngestReemitsStatusWhenFirstPublishFailed(t *testing.T) {
	p, store, pub, rdb := newTestPipeline(t)
	ctx := context.Background()

	var messageID string
	raw := orderPayload(t, func(m map[string]any) { messageID = m["messageId"].(string) })

	pub.errs = []error{fmt.Errorf("broker unavailable")}
	_, err := p.Ingest(ctx, raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish status")
	require.Len(t, store.created, 1, "the order itself is persisted")

	// nothing recorded for dedup, so redelivery is not short-circuited
	exists, err := rdb.Exists(ctx, fmt.Sprintf(redisx.KeyDedupMessage, messageID)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	// redelivery with a healthy broker announces the already-persisted order
	res, err := p.Ingest(ctx, raw)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.True(t, res.Duplicate)

	require.Len(t, pub.sent, 2)
	assert.Equal(t, schema.TopicOrderStatus, pub.sent[0].topic)
	status := pub.sent[0].event.(*schema.OrderStatusEvent)
	assert.Equal(t, string(orders.StatusPending), status.StatusData.ToStatus)
	assert.Equal(t, store.created[0].ID, status.OrderID)

	val, err := rdb.Get(ctx, fmt.Sprintf(redisx.KeyDedupMessage, messageID)).Result()
	require.NoError(t, err)
	assert.Equal(t, store.created[0].ID, val, "dedup key lands once the announcement is out")
}

func TestHandleOrderCreateFailsOnSchemaViolation(t *testing.T) {
	p, store, pub, _ := newTestPipeline(t)

	raw := orderPayload(t, func(m map[string]any) { delete(m, "customerId") })
	msg := &kafkax.Message{Topic: schema.TopicOrderCreate, Value: raw}

	err := p.HandleOrderCreate(context.Background(), msg)
	require.Error(t, err, "unparseable orders must surface so the consumer can dead-letter them")
	assert.Contains(t, err.Error(), "schema validation failed")
	assert.Empty(t, store.created)
	assert.Empty(t, pub.sent)
}

func TestHandleOrderCreateTreatsBusinessRejectionAsTerminal(t *testing.T) {
	p, store, pub, _ := newTestPipeline(t)

	raw := orderPayload(t, func(m map[string]any) { m["shipFromLocationId"] = "BOGUS" })
	msg := &kafkax.Message{Topic: schema.TopicOrderCreate, Value: raw}

	err := p.HandleOrderCreate(context.Background(), msg)
	require.NoError(t, err, "the validation FAIL event is the answer, not a redelivery")
	assert.Empty(t, store.created)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, schema.TopicOrderValidation, pub.sent[0].topic)
}

func statusMessage(t *testing.T, orderID, toStatus string) *kafkax.Message {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"messageId":          uuid.NewString(),
		"timestamp":          "2026-08-27T10:00:00Z",
		"eventType":          schema.EventOrderStatusChanged,
		"orderId":            orderID,
		"orderNumber":        "OM260827000001",
		"shipFromLocationId": "LOC001",
		"statusData":         map[string]any{"toStatus": toStatus, "statusReason": "allocation complete"},
	})
	require.NoError(t, err)
	return &kafkax.Message{Topic: schema.TopicOrderStatus, Value: raw}
}

func TestHandleOrderStatusAppliesTransition(t *testing.T) {
	p, store, _, _ := newTestPipeline(t)
	store.existing = &orders.Order{
		ID: "order-1", OrderNumber: "OM260827000001",
		Status: orders.StatusPending, Version: 1,
	}

	err := p.HandleOrderStatus(context.Background(), statusMessage(t, "order-1", "ALLOCATED"))
	require.NoError(t, err)

	assert.Equal(t, orders.StatusAllocated, store.existing.Status)
	assert.Equal(t, 2, store.existing.Version, "version bumps by exactly 1")
}

func TestHandleOrderStatusIsIdempotent(t *testing.T) {
	p, store, _, _ := newTestPipeline(t)
	store.existing = &orders.Order{
		ID: "order-1", Status: orders.StatusAllocated, Version: 3,
	}

	err := p.HandleOrderStatus(context.Background(), statusMessage(t, "order-1", "ALLOCATED"))
	require.NoError(t, err)
	assert.Equal(t, 3, store.existing.Version, "repeat transition mutates nothing")
}

func TestHandleOrderStatusUnknownOrder(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)

	err := p.HandleOrderStatus(context.Background(), statusMessage(t, "missing", "ALLOCATED"))
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestHandleOrderStatusRetriesVersionConflict(t *testing.T) {
	p, store, _, _ := newTestPipeline(t)
	store.existing = &orders.Order{
		ID: "order-1", OrderNumber: "OM260827000001",
		Status: orders.StatusPending, Version: 1,
	}
	store.conflicts = 1 // a concurrent writer wins the first round

	err := p.HandleOrderStatus(context.Background(), statusMessage(t, "order-1", "ALLOCATED"))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusAllocated, store.existing.Status)
	assert.Equal(t, 2, store.existing.Version)
}

func TestHandleOrderStatusSurfacesExhaustedConflicts(t *testing.T) {
	p, store, _, _ := newTestPipeline(t)
	store.existing = &orders.Order{
		ID: "order-1", OrderNumber: "OM260827000001",
		Status: orders.StatusPending, Version: 1,
	}
	store.conflicts = statusConflictRetries

	err := p.HandleOrderStatus(context.Background(), statusMessage(t, "order-1", "ALLOCATED"))
	require.Error(t, err)
	assert.ErrorIs(t, err, orders.ErrVersionConflict)
	assert.Equal(t, orders.StatusPending, store.existing.Status, "nothing applied")
}

func TestIngestSurfacesPersistenceFailure(t *testing.T) {
	p, store, pub, _ := newTestPipeline(t)

	store.createErr = fmt.Errorf("connection reset")

	_, err := p.Ingest(context.Background(), orderPayload(t, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist order")
	assert.Empty(t, pub.sent)
}
