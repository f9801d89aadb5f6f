package ingest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/omnia-oms/go-order-ingest/internal/schema"
)

// money comparisons tolerate 0.01 currency units
var epsilon = decimal.New(1, -2)

func withinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(epsilon)
}

// ValidateBusiness runs the semantic rules over an already schema-valid event.
// Every violation is collected; nothing fails fast.
func ValidateBusiness(ev *schema.OrderCreatedEvent, validLocations map[string]bool, now time.Time) []schema.FieldError {
	var errs []schema.FieldError

	if !validLocations[ev.ShipFromLocationID] {
		errs = append(errs, schema.FieldError{
			Field:   "shipFromLocationId",
			Message: "invalid shipFromLocationId: " + ev.ShipFromLocationID,
			Value:   ev.ShipFromLocationID,
		})
	}

	errs = append(errs, validateTotals(ev)...)
	errs = append(errs, validateLineItems(ev)...)
	errs = append(errs, validateDeliveryDates(&ev.OrderData, now)...)
	return errs
}

func validateTotals(ev *schema.OrderCreatedEvent) []schema.FieldError {
	var errs []schema.FieldError
	od := &ev.OrderData

	subtotal := decimal.Zero
	for _, li := range ev.LineItems {
		subtotal = subtotal.Add(li.LineTotal)
	}
	if !withinEpsilon(subtotal, od.SubtotalAmount) {
		errs = append(errs, schema.FieldError{
			Field:   "orderData.subtotalAmount",
			Message: fmt.Sprintf("subtotal mismatch: expected %s, got %s", subtotal, od.SubtotalAmount),
			Value:   od.SubtotalAmount.String(),
		})
	}

	total := od.SubtotalAmount.Add(od.TaxAmount).Add(od.ShippingAmount).Sub(od.DiscountAmount)
	if !withinEpsilon(total, od.TotalAmount) {
		errs = append(errs, schema.FieldError{
			Field:   "orderData.totalAmount",
			Message: fmt.Sprintf("total amount mismatch: expected %s, got %s", total, od.TotalAmount),
			Value:   od.TotalAmount.String(),
		})
	}
	return errs
}

func validateLineItems(ev *schema.OrderCreatedEvent) []schema.FieldError {
	var errs []schema.FieldError
	seen := map[int]bool{}

	for i, li := range ev.LineItems {
		if seen[li.LineNumber] {
			errs = append(errs, schema.FieldError{
				Field:   fmt.Sprintf("lineItems[%d].lineNumber", i),
				Message: fmt.Sprintf("duplicate line number: %d", li.LineNumber),
				Value:   li.LineNumber,
			})
		}
		seen[li.LineNumber] = true

		// lineTotal = unitPrice*qty - discount + tax
		want := li.UnitPrice.Mul(decimal.NewFromInt(int64(li.OrderedQuantity))).
			Sub(li.DiscountAmount).Add(li.TaxAmount)
		if !withinEpsilon(want, li.LineTotal) {
			errs = append(errs, schema.FieldError{
				Field:   fmt.Sprintf("lineItems[%d].lineTotal", i),
				Message: fmt.Sprintf("line total mismatch for line %d: expected %s, got %s", li.LineNumber, want, li.LineTotal),
				Value:   li.LineTotal.String(),
			})
		}

		if li.UnitPrice.GreaterThan(li.ListPrice.Add(epsilon)) {
			errs = append(errs, schema.FieldError{
				Field:   fmt.Sprintf("lineItems[%d].unitPrice", i),
				Message: fmt.Sprintf("unit price cannot exceed list price for line %d", li.LineNumber),
				Value:   li.UnitPrice.String(),
			})
		}
	}
	return errs
}

func validateDeliveryDates(od *schema.OrderData, now time.Time) []schema.FieldError {
	var errs []schema.FieldError

	var requested, promised time.Time
	if od.RequestedDeliveryDate != "" {
		requested, _ = time.Parse(time.RFC3339, od.RequestedDeliveryDate)
		if requested.Before(now) {
			errs = append(errs, schema.FieldError{
				Field:   "orderData.requestedDeliveryDate",
				Message: "requested delivery date cannot be in the past",
				Value:   od.RequestedDeliveryDate,
			})
		}
	}
	if od.PromisedDeliveryDate != "" {
		promised, _ = time.Parse(time.RFC3339, od.PromisedDeliveryDate)
		if promised.Before(now) {
			errs = append(errs, schema.FieldError{
				Field:   "orderData.promisedDeliveryDate",
				Message: "promised delivery date cannot be in the past",
				Value:   od.PromisedDeliveryDate,
			})
		}
		if od.RequestedDeliveryDate != "" && promised.Before(requested) {
			errs = append(errs, schema.FieldError{
				Field:   "orderData.promisedDeliveryDate",
				Message: "promised delivery date cannot be before requested delivery date",
				Value:   od.PromisedDeliveryDate,
			})
		}
	}
	return errs
}
