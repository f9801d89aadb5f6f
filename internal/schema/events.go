package schema

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Event types per topic.
const (
	EventOrderCreated = "ORDER_CREATED"

	EventOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventOrderAllocated     = "ORDER_ALLOCATED"
	EventOrderReleased      = "ORDER_RELEASED"
	EventOrderShipped       = "ORDER_SHIPPED"
	EventOrderDelivered     = "ORDER_DELIVERED"
	EventOrderCancelled     = "ORDER_CANCELLED"

	EventValidationPassed  = "ORDER_VALIDATION_PASSED"
	EventValidationFailed  = "ORDER_VALIDATION_FAILED"
	EventValidationWarning = "ORDER_VALIDATION_WARNING"
)

type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// OrderData is the financial/fulfillment block of an OrderCreated event.
// Money is fixed-point with at most 4 fractional digits.
type OrderData struct {
	OrderType             string            `json:"orderType,omitempty"`
	Status                string            `json:"status,omitempty"`
	SubtotalAmount        decimal.Decimal   `json:"subtotalAmount"`
	TaxAmount             decimal.Decimal   `json:"taxAmount"`
	ShippingAmount        decimal.Decimal   `json:"shippingAmount"`
	DiscountAmount        decimal.Decimal   `json:"discountAmount"`
	TotalAmount           decimal.Decimal   `json:"totalAmount"`
	CurrencyCode          string            `json:"currencyCode,omitempty"`
	CustomerInfo          CustomerInfo      `json:"customerInfo"`
	BillingAddress        Address           `json:"billingAddress"`
	ShippingAddress       Address           `json:"shippingAddress"`
	FulfillmentType       string            `json:"fulfillmentType,omitempty"`
	Carrier               string            `json:"carrier,omitempty"`
	ServiceLevel          string            `json:"serviceLevel,omitempty"`
	RequestedDeliveryDate string            `json:"requestedDeliveryDate,omitempty"`
	PromisedDeliveryDate  string            `json:"promisedDeliveryDate,omitempty"`
	Metadata              map[string]any    `json:"metadata,omitempty"`
}

type EventLineItem struct {
	LineNumber      int             `json:"lineNumber"`
	SKU             string          `json:"sku"`
	ItemID          string          `json:"itemId"`
	ItemName        string          `json:"itemName"`
	OrderedQuantity int             `json:"orderedQuantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	ListPrice       decimal.Decimal `json:"listPrice"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	TaxAmount       decimal.Decimal `json:"taxAmount"`
	LineTotal       decimal.Decimal `json:"lineTotal"`
	UnitOfMeasure   string          `json:"unitOfMeasure,omitempty"`
	Category        string          `json:"category,omitempty"`
	Brand           string          `json:"brand,omitempty"`
	ItemAttributes  map[string]any  `json:"itemAttributes,omitempty"`
}

// OrderCreatedEvent travels on order.create.v1.
type OrderCreatedEvent struct {
	Envelope
	OrderID            string          `json:"orderId"`
	OrderNumber        string          `json:"orderNumber"`
	CustomerID         string          `json:"customerId"`
	StoreID            string          `json:"storeId"`
	Channel            string          `json:"channel"`
	ShipFromLocationID string          `json:"shipFromLocationId"`
	OrderData          OrderData       `json:"orderData"`
	LineItems          []EventLineItem `json:"lineItems"`
}

type StatusLocation struct {
	LocationID   string `json:"locationId"`
	LocationType string `json:"locationType"`
	LocationName string `json:"locationName,omitempty"`
}

type ProcessingDetails struct {
	ProcessedBy    string  `json:"processedBy"`
	ProcessingTime float64 `json:"processingTime,omitempty"`
	BatchID        string  `json:"batchId,omitempty"`
	WorkflowStep   string  `json:"workflowStep,omitempty"`
}

type FulfillmentDetails struct {
	Carrier           string `json:"carrier,omitempty"`
	TrackingNumber    string `json:"trackingNumber,omitempty"`
	ServiceLevel      string `json:"serviceLevel,omitempty"`
	EstimatedDelivery string `json:"estimatedDelivery,omitempty"`
}

type StatusData struct {
	FromStatus         string              `json:"fromStatus,omitempty"`
	ToStatus           string              `json:"toStatus"`
	StatusReason       string              `json:"statusReason,omitempty"`
	Location           *StatusLocation     `json:"location,omitempty"`
	ProcessingDetails  *ProcessingDetails  `json:"processingDetails,omitempty"`
	FulfillmentDetails *FulfillmentDetails `json:"fulfillmentDetails,omitempty"`
	Metadata           map[string]any      `json:"metadata,omitempty"`
}

type QuantityDetails struct {
	OrderedQuantity   int `json:"orderedQuantity"`
	AllocatedQuantity int `json:"allocatedQuantity"`
	ShippedQuantity   int `json:"shippedQuantity"`
	DeliveredQuantity int `json:"deliveredQuantity"`
	CancelledQuantity int `json:"cancelledQuantity"`
}

type AffectedLineItem struct {
	LineNumber      int              `json:"lineNumber"`
	SKU             string           `json:"sku"`
	FromStatus      string           `json:"fromStatus,omitempty"`
	ToStatus        string           `json:"toStatus"`
	QuantityDetails *QuantityDetails `json:"quantityDetails,omitempty"`
}

// OrderStatusEvent travels on order.status.v1.
type OrderStatusEvent struct {
	Envelope
	OrderID            string             `json:"orderId"`
	OrderNumber        string             `json:"orderNumber"`
	ShipFromLocationID string             `json:"shipFromLocationId"`
	StatusData         StatusData         `json:"statusData"`
	AffectedLineItems  []AffectedLineItem `json:"affectedLineItems,omitempty"`
}

type ValidationRuleResult struct {
	RuleID      string `json:"ruleId"`
	RuleName    string `json:"ruleName"`
	RuleResult  string `json:"ruleResult"` // PASS | FAIL | WARNING
	RuleMessage string `json:"ruleMessage,omitempty"`
}

type ValidationSummary struct {
	TotalRules   int `json:"totalRules"`
	PassedRules  int `json:"passedRules"`
	FailedRules  int `json:"failedRules"`
	WarningRules int `json:"warningRules"`
}

type ValidationData struct {
	ValidationResult  string                 `json:"validationResult"` // PASS | FAIL | WARNING
	ValidationRules   []ValidationRuleResult `json:"validationRules"`
	ValidationSummary ValidationSummary      `json:"validationSummary"`
	Metadata          map[string]any         `json:"metadata,omitempty"`
}

// OrderValidationEvent travels on order.validation.v1.
type OrderValidationEvent struct {
	Envelope
	OrderID            string         `json:"orderId"`
	OrderNumber        string         `json:"orderNumber"`
	ShipFromLocationID string         `json:"shipFromLocationId"`
	ValidationData     ValidationData `json:"validationData"`
}

type DLQError struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Code      string `json:"code,omitempty"`
}

type DLQMetadata struct {
	Partition     int    `json:"partition,omitempty"`
	Offset        int64  `json:"offset,omitempty"`
	Key           string `json:"key,omitempty"`
	ConsumerGroup string `json:"consumerGroup,omitempty"`
}

// DLQMessage wraps a message that failed processing, paired with error context,
// onto the topic's .dlq variant. RetryCount is bumped by every reprocessing attempt.
type DLQMessage struct {
	MessageID       string          `json:"messageId"`
	Timestamp       string          `json:"timestamp"`
	OriginalTopic   string          `json:"originalTopic"`
	OriginalMessage json.RawMessage `json:"originalMessage"`
	Error           DLQError        `json:"error"`
	RetryCount      int             `json:"retryCount"`
	Metadata        *DLQMetadata    `json:"metadata,omitempty"`
}
