package orders

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRecomputeTotals(t *testing.T) {
	o := &Order{
		TaxAmount:      d("2.00"),
		ShippingAmount: d("5.00"),
		DiscountAmount: d("0"),
	}
	items := []LineItem{
		{LineTotal: d("20.00")},
		{LineTotal: d("15.00")},
	}

	RecomputeTotals(o, items)

	assert.True(t, o.SubtotalAmount.Equal(d("35.00")), "subtotal %s", o.SubtotalAmount)
	assert.True(t, o.TotalAmount.Equal(d("42.00")), "total %s", o.TotalAmount)
}

func TestRecomputeTotalsNoItems(t *testing.T) {
	o := &Order{TaxAmount: d("1.00"), ShippingAmount: d("3.00"), DiscountAmount: d("4.00")}

	RecomputeTotals(o, nil)

	assert.True(t, o.SubtotalAmount.IsZero())
	assert.True(t, o.TotalAmount.IsZero(), "total %s", o.TotalAmount)
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusValidated, StatusAllocated, StatusReleased,
		StatusPicked, StatusPacked, StatusShipped, StatusDelivered, StatusCancelled, StatusReturned} {
		assert.True(t, s.Valid(), "%s", s)
	}
	assert.False(t, Status("PROCESSING").Valid())
	assert.False(t, Status("").Valid())
	assert.False(t, Status("pending").Valid())
}
