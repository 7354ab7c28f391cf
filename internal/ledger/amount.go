package ledger

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/width"
)

var numberReplacer = strings.NewReplacer(",", "", "¥", "", "円", "", " ", "")

// ComputeAmount returns ceil(unitPrice × quantity). Negative inputs count as zero.
func ComputeAmount(unitPrice, quantity decimal.Decimal) decimal.Decimal {
	if unitPrice.IsNegative() || quantity.IsNegative() {
		return decimal.Zero
	}
	return unitPrice.Mul(quantity).Ceil()
}

const (
	// maxIntegerDigits and storedScale mirror the NUMERIC(18,2) price and quantity columns.
	maxIntegerDigits = 16
	storedScale      = 2
)

// plainNumber accepts digits with an optional fraction. Exponent forms are
// refused so that a short input can never expand into a huge value.
var plainNumber = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseDecimal reads a non-negative quantity from user input, rounded to two
// decimal places; anything else, including values too large to store, yields zero.
func ParseDecimal(raw string) decimal.Decimal {
	d, ok := parseStoredDecimal(normalizeNumber(raw))
	if !ok {
		return decimal.Zero
	}
	return d
}

// parseStoredDecimal parses s as a plain non-negative number that fits the
// stored precision, rounding the fraction half away from zero like PostgreSQL.
func parseStoredDecimal(s string) (decimal.Decimal, bool) {
	if !plainNumber.MatchString(s) {
		return decimal.Zero, false
	}
	intPart := strings.TrimLeft(strings.SplitN(s, ".", 2)[0], "0")
	if len(intPart) > maxIntegerDigits {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	d = d.Round(storedScale)
	if len(d.Truncate(0).String()) > maxIntegerDigits {
		return decimal.Zero, false
	}
	return d, true
}

// normalizeNumber folds full-width digits and strips grouping and currency marks.
func normalizeNumber(raw string) string {
	return numberReplacer.Replace(width.Narrow.String(strings.TrimSpace(raw)))
}
