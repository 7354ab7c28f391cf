// Package export renders an order's line items and totals as CSV, XLSX or PDF.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ErrUnsupportedFormat is returned for unknown formats.
var ErrUnsupportedFormat = errors.New("export: unsupported format")

// ParseFormat validates a format name such as "xlsx".
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatCSV, FormatXLSX, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// Document is everything rendered for one order.
type Document struct {
	OrderID     int64
	Title       string
	ClientName  string
	Invoice     []ledger.LineItem
	Cost        []ledger.LineItem
	Totals      ledger.Totals
	GeneratedAt time.Time
}

// Filename returns the download name for the document.
func (d Document) Filename(f Format) string {
	return fmt.Sprintf("order-%d-ledger.%s", d.OrderID, f)
}

// PDFRenderer converts HTML to PDF.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html []byte) ([]byte, error)
}

// Service dispatches exports by format.
type Service struct {
	pdf    PDFRenderer
	logger *slog.Logger
}

// NewService constructs the exporter. pdf may be nil, disabling PDF output.
func NewService(pdf PDFRenderer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pdf: pdf, logger: logger}
}

// Export writes doc to w in the requested format.
func (s *Service) Export(ctx context.Context, format Format, doc Document, w io.Writer) error {
	if doc.GeneratedAt.IsZero() {
		doc.GeneratedAt = time.Now()
	}
	switch format {
	case FormatCSV:
		return WriteCSV(w, doc)
	case FormatXLSX:
		return WriteXLSX(w, doc)
	case FormatPDF:
		if s.pdf == nil {
			return fmt.Errorf("%w: pdf renderer not configured", ErrUnsupportedFormat)
		}
		return s.writePDF(ctx, w, doc)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

var printer = message.NewPrinter(language.Japanese)

// Yen formats an amount as ¥1,234.
func Yen(d decimal.Decimal) string {
	return printer.Sprintf("¥%d", d.Ceil().IntPart())
}

// Quantity formats a number with grouping and up to two decimals.
func Quantity(d decimal.Decimal) string {
	if d.IsInteger() {
		return printer.Sprintf("%d", d.IntPart())
	}
	return printer.Sprint(number.Decimal(d.InexactFloat64(), number.MaxFractionDigits(2)))
}

// Rate formats an optional tax rate as "10%" or an empty string.
func Rate(rate *decimal.Decimal) string {
	if rate == nil {
		return ""
	}
	return rate.String() + "%"
}

func typeLabel(t ledger.ItemType) string {
	if t == ledger.ItemTypeCost {
		return "コスト"
	}
	return "請求"
}
