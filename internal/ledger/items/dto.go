package items

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
	"github.com/KantanPro/ktp-ledger/internal/platform/httpx"
)

// AJAX actions accepted on POST /ajax.
const (
	ActionCreateItem               = "ktp_create_item"
	ActionUpdateItem               = "ktp_update_item"
	ActionDeleteItem               = "ktp_delete_item"
	ActionReorderItems             = "ktp_reorder_items"
	ActionListItems                = "ktp_list_items"
	ActionSupplierTaxProfile       = "ktp_supplier_tax_profile"
	ActionUpdateSupplierTaxProfile = "ktp_update_supplier_tax_profile"
	ActionOrderTotals              = "ktp_order_totals"
)

type createItemForm struct {
	OrderID    int64  `validate:"required,gt=0"`
	ItemType   string `validate:"required,oneof=invoice cost"`
	FieldName  string `validate:"required"`
	FieldValue string
	ClientKey  string `validate:"omitempty,max=64"`
}

type updateItemForm struct {
	OrderID    int64  `validate:"required,gt=0"`
	ItemType   string `validate:"required,oneof=invoice cost"`
	ItemID     int64  `validate:"required,gt=0"`
	FieldName  string `validate:"required"`
	FieldValue string
}

type deleteItemForm struct {
	OrderID  int64  `validate:"required,gt=0"`
	ItemType string `validate:"required,oneof=invoice cost"`
	ItemID   int64  `validate:"required,gt=0"`
}

type reorderEntry struct {
	ID        int64 `json:"id" validate:"gt=0"`
	SortOrder int   `json:"sort_order" validate:"gt=0"`
}

type reorderForm struct {
	OrderID  int64          `validate:"required,gt=0"`
	ItemType string         `validate:"required,oneof=invoice cost"`
	Items    []reorderEntry `validate:"required,min=1,dive"`
}

type listItemsForm struct {
	OrderID  int64  `validate:"required,gt=0"`
	ItemType string `validate:"omitempty,oneof=invoice cost"`
}

type supplierForm struct {
	SupplierID int64 `validate:"required,gt=0"`
}

type supplierProfileForm struct {
	SupplierID             int64  `validate:"required,gt=0"`
	TaxCategory            string `validate:"omitempty,oneof=INCLUSIVE EXCLUSIVE inclusive exclusive"`
	QualifiedInvoiceNumber string `validate:"omitempty,max=20"`
}

type orderForm struct {
	OrderID int64 `validate:"required,gt=0"`
}

// formInt reads an integer form value; malformed input reads as zero and fails validation.
func formInt(r *http.Request, name string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(r.PostFormValue(name)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func decodeReorderEntries(raw string) ([]reorderEntry, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var entries []reorderEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("%w: items: %v", httpx.ErrValidation, err)
	}
	return entries, nil
}

func (f reorderForm) positions() []ledger.Position {
	out := make([]ledger.Position, len(f.Items))
	for i, entry := range f.Items {
		out[i] = ledger.Position{ID: entry.ID, SortOrder: entry.SortOrder}
	}
	return out
}

// validate runs struct validation and folds failures into one validation error.
func validate(v *validator.Validate, form any) error {
	err := v.Struct(form)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(msgs, "; "))
}
