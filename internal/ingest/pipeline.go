// Package ingest turns validated order.create.v1 messages into persisted
// orders and the derived status/validation events.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	kafkax "github.com/omnia-oms/go-order-ingest/internal/kafka"
	"github.com/omnia-oms/go-order-ingest/internal/metrics"
	"github.com/omnia-oms/go-order-ingest/internal/orders"
	"github.com/omnia-oms/go-order-ingest/internal/redisx"
	"github.com/omnia-oms/go-order-ingest/internal/schema"
)

// OrderStore is the slice of orders.Repo the pipeline needs.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *orders.Order, items []orders.LineItem) error
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, to orders.Status, expectedVersion int, by, reason string) (*orders.Order, error)
}

// Publisher is the slice of kafka.Producer the pipeline needs.
type Publisher interface {
	Send(ctx context.Context, topic string, event kafkax.Event, opts kafkax.SendOptions) error
}

type Pipeline struct {
	registry  *schema.Registry
	store     OrderStore
	rdb       *redis.Client
	pub       Publisher
	log       *slog.Logger
	source    string
	locations map[string]bool

	now func() time.Time
}

func NewPipeline(registry *schema.Registry, store OrderStore, rdb *redis.Client,
	pub Publisher, log *slog.Logger, source string, validLocations []string) *Pipeline {
	locs := make(map[string]bool, len(validLocations))
	for _, l := range validLocations {
		locs[l] = true
	}
	return &Pipeline{
		registry:  registry,
		store:     store,
		rdb:       rdb,
		pub:       pub,
		log:       log,
		source:    source,
		locations: locs,
		now:       time.Now,
	}
}

// Validation stages; Result.Stage names which gate rejected the message.
const (
	StageSchema   = "schema"
	StageBusiness = "business"
)

// Result is the outcome of one ingestion attempt. Errors and Stage are
// populated only when IsValid is false; Duplicate marks an idempotent replay.
type Result struct {
	IsValid     bool
	Duplicate   bool
	OrderID     string
	OrderNumber string
	Stage       string
	Errors      []schema.FieldError
}

// Ingest runs the full pipeline over one raw order.create.v1 payload:
// schema validation, message dedup, business rules, atomic persistence, then
// the derived status and validation events. Validation failures come back in
// the Result; only infrastructure problems return an error.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte) (Result, error) {
	msg, fieldErrs, err := p.registry.Validate(schema.TopicOrderCreate, raw)
	if err != nil {
		return Result{}, err
	}
	if len(fieldErrs) > 0 {
		metrics.ValidationFailures.WithLabelValues(StageSchema).Inc()
		p.log.Warn("order rejected by schema validation", "errors", len(fieldErrs))
		return Result{Stage: StageSchema, Errors: fieldErrs}, nil
	}
	ev := msg.OrderCreated

	if res, done := p.checkDedup(ctx, ev); done {
		return res, nil
	}

	if bizErrs := ValidateBusiness(ev, p.locations, p.now()); len(bizErrs) > 0 {
		metrics.ValidationFailures.WithLabelValues(StageBusiness).Inc()
		p.log.Warn("order rejected by business validation",
			"orderNumber", ev.OrderNumber, "errors", len(bizErrs))
		if err := p.publishValidation(ctx, ev, bizErrs); err != nil {
			p.log.Error("failed to publish validation result",
				"orderNumber", ev.OrderNumber, "error", err)
		}
		return Result{Stage: StageBusiness, Errors: bizErrs}, nil
	}

	order, items, err := toDomainOrder(ev)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: map order %s: %w", ev.OrderNumber, err)
	}

	duplicate := false
	if err := p.store.CreateOrder(ctx, order, items); err != nil {
		if !errors.Is(err, orders.ErrDuplicateOrder) {
			return Result{}, fmt.Errorf("ingest: persist order %s: %w", ev.OrderNumber, err)
		}
		// unique index caught a replay; surface the stored row instead
		existing, getErr := p.store.GetByOrderNumber(ctx, order.OrderNumber)
		if getErr != nil {
			return Result{}, fmt.Errorf("ingest: load duplicate order %s: %w", order.OrderNumber, getErr)
		}
		order = existing
		duplicate = true
		p.log.Info("duplicate order skipped",
			"orderNumber", order.OrderNumber, "orderId", order.ID)
	} else {
		metrics.OrdersIngested.Inc()
		p.log.Info("order persisted",
			"orderId", order.ID, "orderNumber", order.OrderNumber,
			"totalAmount", order.TotalAmount, "lineItems", len(items))
	}

	// Announce before recording the dedup key. A failed publish leaves no
	// record, so redelivery runs the announcement again; reaching this point
	// on a duplicate order number means the earlier attempt never finished,
	// so the event is re-emitted (applying it twice is a no-op downstream).
	if err := p.publishStatusChange(ctx, ev, order); err != nil {
		return Result{}, fmt.Errorf("ingest: publish status for %s: %w", order.OrderNumber, err)
	}

	p.markProcessed(ctx, ev.MessageID, order)

	if err := p.publishValidation(ctx, ev, nil); err != nil {
		p.log.Error("failed to publish validation result",
			"orderNumber", order.OrderNumber, "error", err)
	}

	return Result{
		IsValid:     true,
		Duplicate:   duplicate,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
	}, nil
}

// HandleOrderCreate adapts Ingest to the consumer's handler contract. Schema
// violations are surfaced as errors so the raw message lands in the DLQ;
// business-rule rejections are terminal here, the validation FAIL event is
// the answer. Infrastructure errors propagate and trigger redelivery.
func (p *Pipeline) HandleOrderCreate(ctx context.Context, msg *kafkax.Message) error {
	res, err := p.Ingest(ctx, msg.Value)
	if err != nil {
		return err
	}
	if !res.IsValid && res.Stage == StageSchema {
		return fmt.Errorf("ingest: schema validation failed: %w", res.Errors[0])
	}
	return nil
}

// statusConflictRetries bounds re-reads when concurrent writers race the
// version check.
const statusConflictRetries = 3

// HandleOrderStatus applies an order.status.v1 transition through the
// optimistic-concurrency update: read the current version, update conditioned
// on it, re-read and retry on conflict. A transition to the order's current
// status is an idempotent no-op, which also keeps this service from reacting
// to its own PENDING announcements.
func (p *Pipeline) HandleOrderStatus(ctx context.Context, msg *kafkax.Message) error {
	m, fieldErrs, err := p.registry.Validate(schema.TopicOrderStatus, msg.Value)
	if err != nil {
		return err
	}
	if len(fieldErrs) > 0 {
		return fmt.Errorf("ingest: invalid status event: %w", fieldErrs[0])
	}
	ev := m.OrderStatus
	to := orders.Status(ev.StatusData.ToStatus)

	for attempt := 0; attempt < statusConflictRetries; attempt++ {
		cur, err := p.store.GetOrder(ctx, ev.OrderID)
		if err != nil {
			return fmt.Errorf("ingest: load order %s: %w", ev.OrderID, err)
		}
		if cur.Status == to {
			p.log.Debug("status already applied",
				"orderId", ev.OrderID, "status", to)
			return nil
		}

		updated, err := p.store.UpdateStatus(ctx, ev.OrderID, to, cur.Version,
			ev.Source, ev.StatusData.StatusReason)
		if errors.Is(err, orders.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("ingest: apply status %s to %s: %w", to, ev.OrderID, err)
		}
		p.log.Info("order status applied",
			"orderId", updated.ID, "orderNumber", updated.OrderNumber,
			"fromStatus", cur.Status, "toStatus", updated.Status, "version", updated.Version)
		return nil
	}
	return fmt.Errorf("ingest: apply status %s to %s: %w", to, ev.OrderID, orders.ErrVersionConflict)
}

// checkDedup answers whether this messageId was already processed. Redis being
// down degrades to no dedup; the order-number unique index still protects the
// database.
func (p *Pipeline) checkDedup(ctx context.Context, ev *schema.OrderCreatedEvent) (Result, bool) {
	if p.rdb == nil {
		return Result{}, false
	}
	key := fmt.Sprintf(redisx.KeyDedupMessage, ev.MessageID)
	orderID, err := p.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Result{}, false
	}
	if err != nil {
		p.log.Warn("dedup check unavailable", "messageId", ev.MessageID, "error", err)
		return Result{}, false
	}
	p.log.Info("duplicate message skipped", "messageId", ev.MessageID, "orderId", orderID)
	return Result{
		IsValid:     true,
		Duplicate:   true,
		OrderID:     orderID,
		OrderNumber: ev.OrderNumber,
	}, true
}

func (p *Pipeline) markProcessed(ctx context.Context, messageID string, o *orders.Order) {
	if p.rdb == nil {
		return
	}
	dedupKey := fmt.Sprintf(redisx.KeyDedupMessage, messageID)
	if err := p.rdb.Set(ctx, dedupKey, o.ID, redisx.TTLDedup).Err(); err != nil {
		p.log.Warn("failed to record dedup key", "messageId", messageID, "error", err)
	}
	idemKey := fmt.Sprintf(redisx.KeyIdemOrder, o.OrderNumber)
	if err := p.rdb.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err(); err != nil {
		p.log.Warn("failed to record idempotency key", "orderNumber", o.OrderNumber, "error", err)
	}
}

func (p *Pipeline) publishStatusChange(ctx context.Context, ev *schema.OrderCreatedEvent, o *orders.Order) error {
	status := &schema.OrderStatusEvent{
		Envelope: schema.Envelope{
			CorrelationID: ev.MessageID,
			TraceID:       ev.TraceID,
			EventType:     schema.EventOrderStatusChanged,
		},
		OrderID:            o.ID,
		OrderNumber:        o.OrderNumber,
		ShipFromLocationID: o.ShipFromLocationID,
		StatusData: schema.StatusData{
			ToStatus:     string(o.Status),
			StatusReason: "order created",
			ProcessingDetails: &schema.ProcessingDetails{
				ProcessedBy:  p.source,
				WorkflowStep: "INGESTION",
			},
		},
	}
	return p.pub.Send(ctx, schema.TopicOrderStatus, status,
		kafkax.SendOptions{MessageType: "order-status"})
}

func (p *Pipeline) publishValidation(ctx context.Context, ev *schema.OrderCreatedEvent, failures []schema.FieldError) error {
	result := "PASS"
	if len(failures) > 0 {
		result = "FAIL"
	}
	rules := make([]schema.ValidationRuleResult, 0, len(failures))
	for _, fe := range failures {
		rules = append(rules, schema.ValidationRuleResult{
			RuleID:      fe.Field,
			RuleName:    "business-validation",
			RuleResult:  "FAIL",
			RuleMessage: fe.Message,
		})
	}

	vev := &schema.OrderValidationEvent{
		Envelope: schema.Envelope{
			CorrelationID: ev.MessageID,
			TraceID:       ev.TraceID,
			EventType:     validationEventType(result),
		},
		OrderID:            ev.OrderID,
		OrderNumber:        ev.OrderNumber,
		ShipFromLocationID: ev.ShipFromLocationID,
		ValidationData: schema.ValidationData{
			ValidationResult: result,
			ValidationRules:  rules,
			ValidationSummary: schema.ValidationSummary{
				TotalRules:  len(rules),
				FailedRules: len(rules),
			},
		},
	}
	return p.pub.Send(ctx, schema.TopicOrderValidation, vev,
		kafkax.SendOptions{MessageType: "order-validation"})
}

func validationEventType(result string) string {
	switch result {
	case "FAIL":
		return schema.EventValidationFailed
	case "WARNING":
		return schema.EventValidationWarning
	default:
		return schema.EventValidationPassed
	}
}

// toDomainOrder maps the wire event onto the persistence model. The JSON
// blocks (customer info, addresses) are stored as-is.
func toDomainOrder(ev *schema.OrderCreatedEvent) (*orders.Order, []orders.LineItem, error) {
	od := &ev.OrderData

	customerInfo, err := json.Marshal(od.CustomerInfo)
	if err != nil {
		return nil, nil, err
	}
	billing, err := json.Marshal(od.BillingAddress)
	if err != nil {
		return nil, nil, err
	}
	shipping, err := json.Marshal(od.ShippingAddress)
	if err != nil {
		return nil, nil, err
	}

	o := &orders.Order{
		ID:                 ev.OrderID,
		OrderNumber:        ev.OrderNumber,
		CustomerID:         ev.CustomerID,
		StoreID:            ev.StoreID,
		Channel:            ev.Channel,
		OrderType:          od.OrderType,
		Status:             orders.StatusPending,
		SubtotalAmount:     od.SubtotalAmount,
		TaxAmount:          od.TaxAmount,
		ShippingAmount:     od.ShippingAmount,
		DiscountAmount:     od.DiscountAmount,
		TotalAmount:        od.TotalAmount,
		CurrencyCode:       od.CurrencyCode,
		CustomerInfo:       customerInfo,
		BillingAddress:     billing,
		ShippingAddress:    shipping,
		FulfillmentType:    od.FulfillmentType,
		ShipFromLocationID: ev.ShipFromLocationID,
		Carrier:            od.Carrier,
		ServiceLevel:       od.ServiceLevel,
		RequestedDelivery:  parseTimePtr(od.RequestedDeliveryDate),
		PromisedDelivery:   parseTimePtr(od.PromisedDeliveryDate),
		CreatedBy:          ev.Source,
		UpdatedBy:          ev.Source,
	}

	items := make([]orders.LineItem, 0, len(ev.LineItems))
	for _, li := range ev.LineItems {
		items = append(items, orders.LineItem{
			LineNumber:      li.LineNumber,
			SKU:             li.SKU,
			ItemID:          li.ItemID,
			ItemName:        li.ItemName,
			OrderedQuantity: li.OrderedQuantity,
			UnitPrice:       li.UnitPrice,
			ListPrice:       li.ListPrice,
			DiscountAmount:  li.DiscountAmount,
			TaxAmount:       li.TaxAmount,
			LineTotal:       li.LineTotal,
			UnitOfMeasure:   li.UnitOfMeasure,
			LineStatus:      orders.StatusPending,
		})
	}
	return o, items, nil
}

func parseTimePtr(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
