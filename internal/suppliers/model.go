package suppliers

import (
	"time"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
)

// Supplier represents a supplier entity together with its consumption tax attributes.
type Supplier struct {
	ID                     int64              `json:"id"`
	Code                   string             `json:"code"`
	Name                   string             `json:"name"`
	Email                  string             `json:"email"`
	Phone                  string             `json:"phone"`
	TaxCategory            ledger.TaxCategory `json:"tax_category"`
	QualifiedInvoiceNumber string             `json:"qualified_invoice_number"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// Profile projects the supplier onto the attributes used for cost tax.
func (s Supplier) Profile() ledger.SupplierTaxProfile {
	category := s.TaxCategory
	if category != ledger.TaxExclusive {
		category = ledger.TaxInclusive
	}
	return ledger.SupplierTaxProfile{
		SupplierID:             s.ID,
		TaxCategory:            category,
		QualifiedInvoiceNumber: s.QualifiedInvoiceNumber,
	}
}

// TaxProfileUpdate carries the editable tax attributes of a supplier.
type TaxProfileUpdate struct {
	TaxCategory            ledger.TaxCategory
	QualifiedInvoiceNumber string
}
