package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FieldError is one schema violation. Validation collects every violation in a
// single pass instead of failing fast.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

func (e FieldError) Error() string { return e.Field + ": " + e.Message }

// ErrUnknownTopic signals a topic with no registered schema. This is a
// configuration bug, distinct from payload validation failures.
type ErrUnknownTopic struct{ Topic string }

func (e *ErrUnknownTopic) Error() string { return "no schema registered for topic " + e.Topic }

// ValidatedMessage is the tagged result of a successful validation; exactly one
// payload pointer is set, matching the topic's variant.
type ValidatedMessage struct {
	Topic        string
	Envelope     Envelope
	OrderCreated *OrderCreatedEvent
	OrderStatus  *OrderStatusEvent
	Validation   *OrderValidationEvent
	DLQ          *DLQMessage
}

type topicSchema struct {
	allowed  map[string]bool
	required []string
	decode   func(raw []byte, errs *[]FieldError) *ValidatedMessage
}

// Registry maps each topic to exactly one schema definition plus defaults.
type Registry struct {
	schemas map[string]topicSchema
}

func NewRegistry() *Registry {
	r := &Registry{schemas: map[string]topicSchema{}}

	r.schemas[TopicOrderCreate] = topicSchema{
		allowed: keySet(envelopeKeys, "orderId", "orderNumber", "customerId", "storeId",
			"channel", "shipFromLocationId", "orderData", "lineItems"),
		required: []string{"eventType", "orderId", "orderNumber", "customerId", "storeId",
			"channel", "shipFromLocationId", "orderData", "lineItems"},
		decode: decodeOrderCreated,
	}
	r.schemas[TopicOrderStatus] = topicSchema{
		allowed: keySet(envelopeKeys, "orderId", "orderNumber", "shipFromLocationId",
			"statusData", "affectedLineItems"),
		required: []string{"eventType", "orderId", "orderNumber", "shipFromLocationId", "statusData"},
		decode:   decodeOrderStatus,
	}
	r.schemas[TopicOrderValidation] = topicSchema{
		allowed: keySet(envelopeKeys, "orderId", "orderNumber", "shipFromLocationId",
			"validationData", "lineItemValidations"),
		required: []string{"eventType", "orderId", "orderNumber", "shipFromLocationId", "validationData"},
		decode:   decodeValidation,
	}
	dlq := topicSchema{
		allowed: keySet([]string{"messageId", "timestamp"},
			"originalTopic", "originalMessage", "error", "retryCount", "metadata"),
		required: []string{"messageId", "timestamp", "originalTopic", "originalMessage", "error"},
		decode:   decodeDLQ,
	}
	for _, t := range []string{TopicOrderCreate, TopicOrderStatus, TopicOrderValidation} {
		r.schemas[DLQTopic(t)] = dlq
	}
	return r
}

var envelopeKeys = []string{
	"messageId", "timestamp", "schemaVersion", "source", "traceId", "correlationId", "eventType",
}

func keySet(base []string, extra ...string) map[string]bool {
	m := make(map[string]bool, len(base)+len(extra))
	for _, k := range base {
		m[k] = true
	}
	for _, k := range extra {
		m[k] = true
	}
	return m
}

// Validate checks raw against the topic's schema, applies defaults, and returns
// the typed message. Violations come back as a complete error list; the only
// error return is an unregistered topic.
func (r *Registry) Validate(topic string, raw []byte) (*ValidatedMessage, []FieldError, error) {
	def, ok := r.schemas[topic]
	if !ok {
		return nil, nil, &ErrUnknownTopic{Topic: topic}
	}

	var errs []FieldError

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, []FieldError{{Field: "message", Message: "invalid JSON: " + err.Error()}}, nil
	}

	// strict mode: unknown top-level fields are rejected
	for k := range top {
		if !def.allowed[k] {
			errs = append(errs, FieldError{Field: k, Message: "unknown field"})
		}
	}
	for _, k := range def.required {
		if v, ok := top[k]; !ok || string(v) == "null" {
			errs = append(errs, FieldError{Field: k, Message: "is required"})
		}
	}

	msg := def.decode(raw, &errs)
	if len(errs) > 0 {
		return nil, errs, nil
	}
	msg.Topic = topic
	return msg, nil, nil
}

func decodeOrderCreated(raw []byte, errs *[]FieldError) *ValidatedMessage {
	var ev OrderCreatedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		*errs = append(*errs, FieldError{Field: "message", Message: err.Error()})
		return nil
	}
	validateEnvelope(ev.Envelope, errs)
	if ev.EventType != "" && ev.EventType != EventOrderCreated {
		*errs = append(*errs, FieldError{Field: "eventType", Message: "must be ORDER_CREATED", Value: ev.EventType})
	}
	if ev.OrderID != "" && !isUUID(ev.OrderID) {
		*errs = append(*errs, FieldError{Field: "orderId", Message: "must be a valid UUID", Value: ev.OrderID})
	}

	od := &ev.OrderData
	checkMoney("orderData.subtotalAmount", od.SubtotalAmount, errs)
	checkMoney("orderData.taxAmount", od.TaxAmount, errs)
	checkMoney("orderData.shippingAmount", od.ShippingAmount, errs)
	checkMoney("orderData.discountAmount", od.DiscountAmount, errs)
	checkMoney("orderData.totalAmount", od.TotalAmount, errs)
	if od.CurrencyCode != "" && len(od.CurrencyCode) != 3 {
		*errs = append(*errs, FieldError{Field: "orderData.currencyCode", Message: "must be a 3-letter code", Value: od.CurrencyCode})
	}
	if od.CustomerInfo.Name == "" {
		*errs = append(*errs, FieldError{Field: "orderData.customerInfo.name", Message: "is required"})
	}
	if !strings.Contains(od.CustomerInfo.Email, "@") {
		*errs = append(*errs, FieldError{Field: "orderData.customerInfo.email", Message: "must be a valid email", Value: od.CustomerInfo.Email})
	}
	checkAddress("orderData.billingAddress", od.BillingAddress, errs)
	checkAddress("orderData.shippingAddress", od.ShippingAddress, errs)
	checkISODate("orderData.requestedDeliveryDate", od.RequestedDeliveryDate, errs)
	checkISODate("orderData.promisedDeliveryDate", od.PromisedDeliveryDate, errs)

	if len(ev.LineItems) == 0 {
		*errs = append(*errs, FieldError{Field: "lineItems", Message: "must contain at least one item"})
	}
	for i := range ev.LineItems {
		li := &ev.LineItems[i]
		prefix := fmt.Sprintf("lineItems[%d].", i)
		if li.LineNumber < 1 {
			*errs = append(*errs, FieldError{Field: prefix + "lineNumber", Message: "must be >= 1", Value: li.LineNumber})
		}
		if li.SKU == "" {
			*errs = append(*errs, FieldError{Field: prefix + "sku", Message: "is required"})
		}
		if li.ItemID == "" {
			*errs = append(*errs, FieldError{Field: prefix + "itemId", Message: "is required"})
		}
		if li.ItemName == "" {
			*errs = append(*errs, FieldError{Field: prefix + "itemName", Message: "is required"})
		}
		if li.OrderedQuantity < 1 {
			*errs = append(*errs, FieldError{Field: prefix + "orderedQuantity", Message: "must be >= 1", Value: li.OrderedQuantity})
		}
		checkMoney(prefix+"unitPrice", li.UnitPrice, errs)
		checkMoney(prefix+"listPrice", li.ListPrice, errs)
		checkMoney(prefix+"discountAmount", li.DiscountAmount, errs)
		checkMoney(prefix+"taxAmount", li.TaxAmount, errs)
		checkMoney(prefix+"lineTotal", li.LineTotal, errs)
		if li.UnitOfMeasure == "" {
			li.UnitOfMeasure = "EA"
		}
	}

	applyOrderDefaults(&ev)
	return &ValidatedMessage{Envelope: ev.Envelope, OrderCreated: &ev}
}

func decodeOrderStatus(raw []byte, errs *[]FieldError) *ValidatedMessage {
	var ev OrderStatusEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		*errs = append(*errs, FieldError{Field: "message", Message: err.Error()})
		return nil
	}
	validateEnvelope(ev.Envelope, errs)
	switch ev.EventType {
	case "", EventOrderStatusChanged, EventOrderAllocated, EventOrderReleased,
		EventOrderShipped, EventOrderDelivered, EventOrderCancelled:
	default:
		*errs = append(*errs, FieldError{Field: "eventType", Message: "unknown status event type", Value: ev.EventType})
	}
	if ev.StatusData.ToStatus == "" {
		*errs = append(*errs, FieldError{Field: "statusData.toStatus", Message: "is required"})
	}
	for i, li := range ev.AffectedLineItems {
		if li.LineNumber < 1 {
			*errs = append(*errs, FieldError{
				Field: fmt.Sprintf("affectedLineItems[%d].lineNumber", i), Message: "must be >= 1", Value: li.LineNumber})
		}
		if li.ToStatus == "" {
			*errs = append(*errs, FieldError{
				Field: fmt.Sprintf("affectedLineItems[%d].toStatus", i), Message: "is required"})
		}
	}
	ev.Envelope.applyDefaults()
	return &ValidatedMessage{Envelope: ev.Envelope, OrderStatus: &ev}
}

func decodeValidation(raw []byte, errs *[]FieldError) *ValidatedMessage {
	var ev OrderValidationEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		*errs = append(*errs, FieldError{Field: "message", Message: err.Error()})
		return nil
	}
	validateEnvelope(ev.Envelope, errs)
	switch ev.ValidationData.ValidationResult {
	case "PASS", "FAIL", "WARNING":
	default:
		*errs = append(*errs, FieldError{
			Field: "validationData.validationResult", Message: "must be PASS, FAIL or WARNING",
			Value: ev.ValidationData.ValidationResult})
	}
	ev.Envelope.applyDefaults()
	return &ValidatedMessage{Envelope: ev.Envelope, Validation: &ev}
}

func decodeDLQ(raw []byte, errs *[]FieldError) *ValidatedMessage {
	var msg DLQMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		*errs = append(*errs, FieldError{Field: "message", Message: err.Error()})
		return nil
	}
	if msg.Error.Message == "" {
		*errs = append(*errs, FieldError{Field: "error.message", Message: "is required"})
	}
	if msg.RetryCount < 0 {
		*errs = append(*errs, FieldError{Field: "retryCount", Message: "must be >= 0", Value: msg.RetryCount})
	}
	env := Envelope{MessageID: msg.MessageID, Timestamp: msg.Timestamp}
	return &ValidatedMessage{Envelope: env, DLQ: &msg}
}

func validateEnvelope(env Envelope, errs *[]FieldError) {
	if env.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, env.Timestamp); err != nil {
			*errs = append(*errs, FieldError{Field: "timestamp", Message: "must be an ISO-8601 timestamp", Value: env.Timestamp})
		}
	}
}

func (e *Envelope) applyDefaults() {
	if e.SchemaVersion == "" {
		e.SchemaVersion = DefaultSchemaVersion
	}
	if e.Source == "" {
		e.Source = DefaultSource
	}
}

func applyOrderDefaults(ev *OrderCreatedEvent) {
	ev.Envelope.applyDefaults()
	od := &ev.OrderData
	if od.OrderType == "" {
		od.OrderType = "STANDARD"
	}
	if od.Status == "" {
		od.Status = "PENDING"
	}
	if od.CurrencyCode == "" {
		od.CurrencyCode = "USD"
	}
	if od.FulfillmentType == "" {
		od.FulfillmentType = "SHIP_TO_CUSTOMER"
	}
}

// checkMoney enforces the DECIMAL(18,4) contract: non-negative, at most 4
// fractional digits.
func checkMoney(field string, d decimal.Decimal, errs *[]FieldError) {
	if d.IsNegative() {
		*errs = append(*errs, FieldError{Field: field, Message: "must be >= 0", Value: d.String()})
	}
	if !d.Equal(d.Truncate(4)) {
		*errs = append(*errs, FieldError{Field: field, Message: "must have at most 4 decimal places", Value: d.String()})
	}
}

func checkAddress(field string, a Address, errs *[]FieldError) {
	if a.Street == "" {
		*errs = append(*errs, FieldError{Field: field + ".street", Message: "is required"})
	}
	if a.City == "" {
		*errs = append(*errs, FieldError{Field: field + ".city", Message: "is required"})
	}
	if a.State == "" {
		*errs = append(*errs, FieldError{Field: field + ".state", Message: "is required"})
	}
	if a.PostalCode == "" {
		*errs = append(*errs, FieldError{Field: field + ".postalCode", Message: "is required"})
	}
	if a.Country == "" {
		*errs = append(*errs, FieldError{Field: field + ".country", Message: "is required"})
	}
}

func checkISODate(field, v string, errs *[]FieldError) {
	if v == "" {
		return
	}
	if _, err := time.Parse(time.RFC3339, v); err != nil {
		*errs = append(*errs, FieldError{Field: field, Message: "must be an ISO-8601 timestamp", Value: v})
	}
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
