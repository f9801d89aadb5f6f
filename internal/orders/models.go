package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID                 string
	OrderNumber        string
	CustomerID         string
	StoreID            string
	Channel            string
	OrderType          string
	Status             Status
	SubtotalAmount     decimal.Decimal
	TaxAmount          decimal.Decimal
	ShippingAmount     decimal.Decimal
	DiscountAmount     decimal.Decimal
	TotalAmount        decimal.Decimal
	CurrencyCode       string
	CustomerInfo       []byte // JSON blocks, stored as-is
	BillingAddress     []byte
	ShippingAddress    []byte
	FulfillmentType    string
	ShipFromLocationID string
	Carrier            string
	ServiceLevel       string
	RequestedDelivery  *time.Time
	PromisedDelivery   *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CreatedBy          string
	UpdatedBy          string
	Version            int
}

type LineItem struct {
	ID              string
	OrderID         string
	LineNumber      int
	SKU             string
	ItemID          string
	ItemName        string
	OrderedQuantity int
	UnitPrice       decimal.Decimal
	ListPrice       decimal.Decimal
	DiscountAmount  decimal.Decimal
	TaxAmount       decimal.Decimal
	LineTotal       decimal.Decimal
	UnitOfMeasure   string
	LineStatus      Status
}

// StatusHistoryEntry is one row of the append-only audit log. FromStatus is nil
// for the creation entry.
type StatusHistoryEntry struct {
	ID              string
	OrderID         string
	FromStatus      *Status
	ToStatus        Status
	StatusChangedAt time.Time
	ChangedBy       string
	ChangeReason    string
	ChangeSource    string
}

// RecomputeTotals derives the order-level financials from line items plus the
// order's tax/shipping/discount. Totals are never mutated independently.
func RecomputeTotals(o *Order, items []LineItem) {
	subtotal := decimal.Zero
	for _, li := range items {
		subtotal = subtotal.Add(li.LineTotal)
	}
	o.SubtotalAmount = subtotal
	o.TotalAmount = subtotal.Add(o.TaxAmount).Add(o.ShippingAmount).Sub(o.DiscountAmount)
}
