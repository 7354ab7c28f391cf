package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Field names an editable column of a line item.
type Field string

const (
	FieldProductName Field = "product_name"
	FieldPrice       Field = "price"
	FieldQuantity    Field = "quantity"
	FieldUnit        Field = "unit"
	FieldTaxRate     Field = "tax_rate"
	FieldAmount      Field = "amount"
	FieldSupplierID  Field = "supplier_id"
	FieldPurchaseRef Field = "purchase_ref"
	FieldRemarks     Field = "remarks"
)

var fieldOrder = []Field{
	FieldProductName,
	FieldPrice,
	FieldQuantity,
	FieldUnit,
	FieldTaxRate,
	FieldAmount,
	FieldSupplierID,
	FieldPurchaseRef,
	FieldRemarks,
}

var maxTaxRate = decimal.NewFromInt(100)

// Fields returns the field catalogue applicable to the item type.
func Fields(itemType ItemType) []Field {
	out := make([]Field, 0, len(fieldOrder))
	for _, f := range fieldOrder {
		if f.costOnly() && itemType != ItemTypeCost {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (f Field) costOnly() bool {
	return f == FieldSupplierID || f == FieldPurchaseRef
}

// AffectsAmount reports whether editing the field changes the derived amount.
func (f Field) AffectsAmount() bool {
	return f == FieldPrice || f == FieldQuantity
}

// CheckEditable validates that the field may be written by a user.
func CheckEditable(itemType ItemType, field Field) error {
	if field == FieldAmount {
		return ErrReadOnlyField
	}
	for _, f := range Fields(itemType) {
		if f == field {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownField, field)
}

// FormFieldName renders the HTML form name for a cell, e.g. cost_items[2][price].
func FormFieldName(itemType ItemType, index int, field Field) string {
	return fmt.Sprintf("%s_items[%d][%s]", itemType, index, field)
}

// ParseFieldValue converts raw user input into the typed value stored for the field.
// Numeric inputs that cannot be parsed coerce to zero; tax rate and supplier
// reference are validated because they select behaviour rather than quantities.
func ParseFieldValue(itemType ItemType, field Field, raw string) (any, error) {
	if err := CheckEditable(itemType, field); err != nil {
		return nil, err
	}
	switch field {
	case FieldPrice, FieldQuantity:
		return ParseDecimal(raw), nil
	case FieldTaxRate:
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return (*decimal.Decimal)(nil), nil
		}
		rate, ok := parseStoredDecimal(normalizeNumber(trimmed))
		if !ok {
			return nil, fmt.Errorf("%w: tax rate %q", ErrValidation, truncateInput(raw))
		}
		if rate.GreaterThan(maxTaxRate) {
			return nil, fmt.Errorf("%w: tax rate %s outside 0-100", ErrValidation, rate)
		}
		return &rate, nil
	case FieldSupplierID:
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return int64(0), nil
		}
		id, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("%w: supplier id %q", ErrValidation, raw)
		}
		return id, nil
	case FieldProductName:
		return strings.TrimSpace(raw), nil
	default:
		return raw, nil
	}
}

// FieldValue renders the current value of a field as user input would carry it.
func FieldValue(li *LineItem, field Field) string {
	switch field {
	case FieldProductName:
		return li.ProductName
	case FieldPrice:
		return li.UnitPrice.String()
	case FieldQuantity:
		return li.Quantity.String()
	case FieldUnit:
		return li.Unit
	case FieldTaxRate:
		if li.TaxRate == nil {
			return ""
		}
		return li.TaxRate.String()
	case FieldAmount:
		return li.Amount.String()
	case FieldSupplierID:
		if li.SupplierID == 0 {
			return ""
		}
		return strconv.FormatInt(li.SupplierID, 10)
	case FieldPurchaseRef:
		return li.PurchaseRef
	case FieldRemarks:
		return li.Remarks
	default:
		return ""
	}
}

// ApplyField writes raw input into the row and refreshes the amount when needed.
func ApplyField(li *LineItem, field Field, raw string) error {
	value, err := ParseFieldValue(li.Type, field, raw)
	if err != nil {
		return err
	}
	switch field {
	case FieldProductName:
		li.ProductName = value.(string)
	case FieldPrice:
		li.UnitPrice = value.(decimal.Decimal)
	case FieldQuantity:
		li.Quantity = value.(decimal.Decimal)
	case FieldUnit:
		li.Unit = value.(string)
	case FieldTaxRate:
		li.TaxRate = value.(*decimal.Decimal)
	case FieldSupplierID:
		li.SupplierID = value.(int64)
	case FieldPurchaseRef:
		li.PurchaseRef = value.(string)
	case FieldRemarks:
		li.Remarks = value.(string)
	}
	if field.AffectsAmount() {
		li.Recalculate()
	}
	return nil
}

// truncateInput shortens raw input echoed back in error messages.
func truncateInput(raw string) string {
	const limit = 32
	if r := []rune(raw); len(r) > limit {
		return string(r[:limit]) + "…"
	}
	return raw
}
