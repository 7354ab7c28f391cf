package suppliers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
)

// Registered qualified invoice issuers carry "T" followed by 13 digits.
var qualifiedNumberPattern = regexp.MustCompile(`^T\d{13}$`)

func normalizeProfile(update TaxProfileUpdate) (TaxProfileUpdate, error) {
	update.TaxCategory = ledger.TaxCategory(strings.ToUpper(strings.TrimSpace(string(update.TaxCategory))))
	if update.TaxCategory == "" {
		update.TaxCategory = ledger.TaxInclusive
	}
	if update.TaxCategory != ledger.TaxInclusive && update.TaxCategory != ledger.TaxExclusive {
		return update, fmt.Errorf("%w: tax category %q", ErrInvalidProfile, update.TaxCategory)
	}
	update.QualifiedInvoiceNumber = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(update.QualifiedInvoiceNumber), "-", ""))
	if update.QualifiedInvoiceNumber != "" && !qualifiedNumberPattern.MatchString(update.QualifiedInvoiceNumber) {
		return update, fmt.Errorf("%w: qualified invoice number %q", ErrInvalidProfile, update.QualifiedInvoiceNumber)
	}
	return update, nil
}
