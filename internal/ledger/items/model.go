package items

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
)

var (
	// ErrNotFound indicates the line item does not belong to the order or does not exist.
	ErrNotFound = errors.New("items: line item not found")
	// ErrOrderNotFound indicates the order context is unknown.
	ErrOrderNotFound = errors.New("items: order not found")
)

// idempotencyModule scopes client row keys in the idempotency store.
const idempotencyModule = "ledger.create_item"

// columns is the allow-list of editable fields and the column each one writes.
var columns = map[ledger.Field]string{
	ledger.FieldProductName: "product_name",
	ledger.FieldPrice:       "price",
	ledger.FieldQuantity:    "quantity",
	ledger.FieldUnit:        "unit",
	ledger.FieldTaxRate:     "tax_rate",
	ledger.FieldSupplierID:  "supplier_id",
	ledger.FieldPurchaseRef: "purchase_ref",
	ledger.FieldRemarks:     "remarks",
}

// TotalsSnapshot is the last computed totals of an order.
type TotalsSnapshot struct {
	OrderID        int64           `json:"order_id"`
	InvoiceTotal   decimal.Decimal `json:"invoice_total"`
	CostTotal      decimal.Decimal `json:"cost_total"`
	CostTax        decimal.Decimal `json:"cost_tax"`
	DeductibleCost decimal.Decimal `json:"deductible_cost"`
	Profit         decimal.Decimal `json:"profit"`
	ComputedAt     time.Time       `json:"computed_at"`
}

// NewSnapshot stamps totals for persistence.
func NewSnapshot(orderID int64, totals ledger.Totals, at time.Time) TotalsSnapshot {
	return TotalsSnapshot{
		OrderID:        orderID,
		InvoiceTotal:   totals.InvoiceTotal,
		CostTotal:      totals.CostTotal,
		CostTax:        totals.CostTax,
		DeductibleCost: totals.DeductibleCost,
		Profit:         totals.Profit,
		ComputedAt:     at,
	}
}

// Totals converts the snapshot back to ledger totals.
func (s TotalsSnapshot) Totals() ledger.Totals {
	return ledger.Totals{
		InvoiceTotal:   s.InvoiceTotal,
		CostTotal:      s.CostTotal,
		CostTax:        s.CostTax,
		DeductibleCost: s.DeductibleCost,
		Profit:         s.Profit,
	}
}

// Order is the minimal order header the ledger hangs off.
type Order struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	ClientName string `json:"client_name"`
}
