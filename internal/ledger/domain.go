package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemType selects which table of an order a line item belongs to.
type ItemType string

const (
	ItemTypeInvoice ItemType = "invoice"
	ItemTypeCost    ItemType = "cost"
)

// Valid reports whether the item type is known.
func (t ItemType) Valid() bool {
	return t == ItemTypeInvoice || t == ItemTypeCost
}

// RowState tracks the persistence lifecycle of a row.
type RowState string

const (
	RowStateUninitialized   RowState = "UNINITIALIZED"
	RowStatePendingCreation RowState = "PENDING_CREATION"
	RowStatePersisted       RowState = "PERSISTED"
	RowStateDeleted         RowState = "DELETED"
)

// TaxCategory describes whether supplier amounts already contain consumption tax.
type TaxCategory string

const (
	TaxInclusive TaxCategory = "INCLUSIVE"
	TaxExclusive TaxCategory = "EXCLUSIVE"
)

// LineItem is one row of an invoice or cost table.
type LineItem struct {
	Key         string           `json:"key"`
	ID          int64            `json:"id"`
	OrderID     int64            `json:"order_id"`
	Type        ItemType         `json:"type"`
	ProductName string           `json:"product_name"`
	UnitPrice   decimal.Decimal  `json:"price"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Unit        string           `json:"unit"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty"`
	Amount      decimal.Decimal  `json:"amount"`
	SupplierID  int64            `json:"supplier_id,omitempty"`
	PurchaseRef string           `json:"purchase_ref,omitempty"`
	Remarks     string           `json:"remarks"`
	SortOrder   int              `json:"sort_order"`
	State       RowState         `json:"state"`
	UpdatedAt   time.Time        `json:"updated_at"`

	// unsaved maps a field to the last value known to be persisted.
	unsaved map[Field]string
}

// NewLineItem returns an uninitialised template row.
func NewLineItem(itemType ItemType, orderID int64) *LineItem {
	return &LineItem{
		Key:       uuid.NewString(),
		OrderID:   orderID,
		Type:      itemType,
		UnitPrice: decimal.Zero,
		Quantity:  decimal.Zero,
		Amount:    decimal.Zero,
		State:     RowStateUninitialized,
	}
}

// PendingCreation reports whether the row only exists client-side.
func (li *LineItem) PendingCreation() bool {
	return li.ID == 0 && li.State != RowStatePersisted
}

// Recalculate refreshes the derived amount.
func (li *LineItem) Recalculate() {
	li.Amount = ComputeAmount(li.UnitPrice, li.Quantity)
}

// UnsavedFields lists fields whose last save failed.
func (li *LineItem) UnsavedFields() []Field {
	if len(li.unsaved) == 0 {
		return nil
	}
	fields := make([]Field, 0, len(li.unsaved))
	for _, f := range fieldOrder {
		if _, ok := li.unsaved[f]; ok {
			fields = append(fields, f)
		}
	}
	return fields
}

// IsUnsaved reports whether the field is flagged unsaved.
func (li *LineItem) IsUnsaved(field Field) bool {
	_, ok := li.unsaved[field]
	return ok
}

func (li *LineItem) markUnsaved(field Field, lastGood string) {
	if li.unsaved == nil {
		li.unsaved = make(map[Field]string)
	}
	if _, exists := li.unsaved[field]; exists {
		return
	}
	li.unsaved[field] = lastGood
}

func (li *LineItem) clearUnsaved(field Field) {
	delete(li.unsaved, field)
}

// clone copies the row including its unsaved bookkeeping.
func (li *LineItem) clone() LineItem {
	out := *li
	if li.TaxRate != nil {
		rate := *li.TaxRate
		out.TaxRate = &rate
	}
	if li.unsaved != nil {
		out.unsaved = make(map[Field]string, len(li.unsaved))
		for k, v := range li.unsaved {
			out.unsaved[k] = v
		}
	}
	return out
}

// Position pairs a persisted row id with its rank inside a table.
type Position struct {
	ID        int64 `json:"id"`
	SortOrder int   `json:"sort_order"`
}

// SupplierTaxProfile carries the supplier attributes that drive cost tax.
type SupplierTaxProfile struct {
	SupplierID             int64       `json:"supplier_id"`
	TaxCategory            TaxCategory `json:"tax_category"`
	QualifiedInvoiceNumber string      `json:"qualified_invoice_number"`
}

// Qualified reports whether the supplier issues qualified invoices.
func (p SupplierTaxProfile) Qualified() bool {
	return p.QualifiedInvoiceNumber != ""
}

// DefaultTaxProfile is applied to manual rows and failed lookups.
func DefaultTaxProfile(supplierID int64) SupplierTaxProfile {
	return SupplierTaxProfile{SupplierID: supplierID, TaxCategory: TaxInclusive}
}

// Totals summarises both tables of an order.
type Totals struct {
	InvoiceTotal   decimal.Decimal `json:"invoice_total"`
	CostTotal      decimal.Decimal `json:"cost_total"`
	CostTax        decimal.Decimal `json:"cost_tax"`
	DeductibleCost decimal.Decimal `json:"deductible_cost"`
	Profit         decimal.Decimal `json:"profit"`
}

// ZeroTotals returns totals for an empty order.
func ZeroTotals() Totals {
	return Totals{
		InvoiceTotal:   decimal.Zero,
		CostTotal:      decimal.Zero,
		CostTax:        decimal.Zero,
		DeductibleCost: decimal.Zero,
		Profit:         decimal.Zero,
	}
}

// Equal compares totals by value.
func (t Totals) Equal(other Totals) bool {
	return t.InvoiceTotal.Equal(other.InvoiceTotal) &&
		t.CostTotal.Equal(other.CostTotal) &&
		t.CostTax.Equal(other.CostTax) &&
		t.DeductibleCost.Equal(other.DeductibleCost) &&
		t.Profit.Equal(other.Profit)
}
