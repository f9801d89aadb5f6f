package ingest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/omnia-oms/go-order-ingest/internal/schema"
)

var testLocations = map[string]bool{"LOC001": true, "DC001": true}

func baseEvent() *schema.OrderCreatedEvent {
	return &schema.OrderCreatedEvent{
		OrderNumber:        "OM260827000001",
		ShipFromLocationID: "LOC001",
		OrderData: schema.OrderData{
			SubtotalAmount: decimal.RequireFromString("20"),
			TaxAmount:      decimal.RequireFromString("2"),
			ShippingAmount: decimal.RequireFromString("5"),
			DiscountAmount: decimal.Zero,
			TotalAmount:    decimal.RequireFromString("27"),
		},
		LineItems: []schema.EventLineItem{{
			LineNumber:      1,
			SKU:             "SKU-001",
			OrderedQuantity: 2,
			UnitPrice:       decimal.RequireFromString("10"),
			ListPrice:       decimal.RequireFromString("10"),
			DiscountAmount:  decimal.Zero,
			TaxAmount:       decimal.Zero,
			LineTotal:       decimal.RequireFromString("20"),
		}},
	}
}

func fieldsOf(errs []schema.FieldError) map[string]bool {
	m := map[string]bool{}
	for _, fe := range errs {
		m[fe.Field] = true
	}
	return m
}

func TestValidateBusinessCleanOrder(t *testing.T) {
	errs := ValidateBusiness(baseEvent(), testLocations, time.Now())
	assert.Empty(t, errs)
}

func TestValidateBusinessToleratesRoundingWithinEpsilon(t *testing.T) {
	ev := baseEvent()
	ev.OrderData.TotalAmount = decimal.RequireFromString("27.01")

	errs := ValidateBusiness(ev, testLocations, time.Now())
	assert.Empty(t, errs, "0.01 drift is accepted")

	ev.OrderData.TotalAmount = decimal.RequireFromString("27.02")
	errs = ValidateBusiness(ev, testLocations, time.Now())
	assert.True(t, fieldsOf(errs)["orderData.totalAmount"])
}

func TestValidateBusinessLineTotalFormula(t *testing.T) {
	ev := baseEvent()
	// lineTotal = 10*2 - 1.50 + 0.80 = 19.30
	ev.LineItems[0].DiscountAmount = decimal.RequireFromString("1.50")
	ev.LineItems[0].TaxAmount = decimal.RequireFromString("0.80")
	ev.LineItems[0].LineTotal = decimal.RequireFromString("19.30")
	ev.OrderData.SubtotalAmount = decimal.RequireFromString("19.30")
	ev.OrderData.TotalAmount = decimal.RequireFromString("26.30")

	assert.Empty(t, ValidateBusiness(ev, testLocations, time.Now()))

	ev.LineItems[0].LineTotal = decimal.RequireFromString("21.00")
	errs := ValidateBusiness(ev, testLocations, time.Now())
	assert.True(t, fieldsOf(errs)["lineItems[0].lineTotal"])
}

func TestValidateBusinessUnitPriceCap(t *testing.T) {
	ev := baseEvent()
	ev.LineItems[0].ListPrice = decimal.RequireFromString("9")

	errs := ValidateBusiness(ev, testLocations, time.Now())
	assert.True(t, fieldsOf(errs)["lineItems[0].unitPrice"])
}

func TestValidateBusinessDeliveryDates(t *testing.T) {
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	ev := baseEvent()
	ev.OrderData.RequestedDeliveryDate = "2026-08-20T00:00:00Z" // past
	errs := ValidateBusiness(ev, testLocations, now)
	assert.True(t, fieldsOf(errs)["orderData.requestedDeliveryDate"])

	ev = baseEvent()
	ev.OrderData.RequestedDeliveryDate = "2026-09-10T00:00:00Z"
	ev.OrderData.PromisedDeliveryDate = "2026-09-05T00:00:00Z" // before requested
	errs = ValidateBusiness(ev, testLocations, now)
	assert.True(t, fieldsOf(errs)["orderData.promisedDeliveryDate"])

	ev = baseEvent()
	ev.OrderData.RequestedDeliveryDate = "2026-09-05T00:00:00Z"
	ev.OrderData.PromisedDeliveryDate = "2026-09-10T00:00:00Z"
	assert.Empty(t, ValidateBusiness(ev, testLocations, now))
}

func TestValidateBusinessUnknownLocation(t *testing.T) {
	ev := baseEvent()
	ev.ShipFromLocationID = "WAREHOUSE-X"

	errs := ValidateBusiness(ev, testLocations, time.Now())
	assert.True(t, fieldsOf(errs)["shipFromLocationId"])
}
