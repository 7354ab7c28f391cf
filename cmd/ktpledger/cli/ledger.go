package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
	"github.com/KantanPro/ktp-ledger/internal/ledger/export"
)

// Backend is the ledger server as seen from the command line.
type Backend interface {
	ledger.Store
	ledger.ProfileResolver
	ListItems(ctx context.Context, orderID int64, itemType ledger.ItemType) ([]ledger.LineItem, error)
}

// LedgerCLI edits an order's line items through ledger.Table against a remote backend.
type LedgerCLI struct {
	backend  Backend
	recorder ledger.Recorder
	logger   *slog.Logger
	lookup   ledger.AggregatorConfig
}

// NewLedgerCLI constructs the helper. recorder may be nil.
func NewLedgerCLI(backend Backend, recorder ledger.Recorder, logger *slog.Logger, lookup ledger.AggregatorConfig) (*LedgerCLI, error) {
	if backend == nil {
		return nil, errors.New("ledger cli: backend is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerCLI{backend: backend, recorder: recorder, logger: logger, lookup: lookup}, nil
}

// ImportOptions configures the import command.
type ImportOptions struct {
	OrderID    int64
	ItemType   ledger.ItemType
	Source     io.Reader
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ImportFailure reports one cell or row that did not reach the server.
type ImportFailure struct {
	Line    int    `json:"line"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ImportSummary is the JSON output of the import command.
type ImportSummary struct {
	OrderID  int64           `json:"order_id"`
	Type     ledger.ItemType `json:"type"`
	Imported int             `json:"imported"`
	Failures []ImportFailure `json:"failures"`
	Totals   ledger.Totals   `json:"totals"`
}

// ImportCommand appends CSV rows to a table. The header row names ledger
// fields; product_name is mandatory. Returns 10 when some rows or cells failed.
func (c *LedgerCLI) ImportCommand(ctx context.Context, opts ImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.OrderID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "ledger import: --order is required and must be positive")
		return 1
	}
	if !opts.ItemType.Valid() {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger import: invalid --type %q (expected invoice or cost)\n", opts.ItemType)
		return 1
	}
	if opts.Source == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "ledger import: no source provided")
		return 1
	}

	reader := csv.NewReader(opts.Source)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger import: read header: %v\n", err)
		return 1
	}
	columns, err := parseHeader(opts.ItemType, header)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger import: %v\n", err)
		return 1
	}

	l, err := c.load(ctx, opts.OrderID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger import: %v\n", err)
		return 1
	}
	table := l.Table(opts.ItemType)
	summary := ImportSummary{OrderID: opts.OrderID, Type: opts.ItemType, Failures: []ImportFailure{}}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			summary.Failures = append(summary.Failures, ImportFailure{Line: line, Message: err.Error()})
			continue
		}
		if c.importRecord(ctx, table, columns, record, line, &summary) {
			summary.Imported++
		}
	}

	summary.Totals, err = l.Totals(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger import: totals: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger import: encode json: %v\n", err)
			return 1
		}
	} else {
		renderImportHuman(opts.Stdout, summary)
	}
	if len(summary.Failures) > 0 {
		return 10
	}
	return 0
}

// importRecord creates one row and writes its remaining cells. It reports
// whether the row was created; cell failures are collected in summary.
func (c *LedgerCLI) importRecord(ctx context.Context, table *ledger.Table, columns []ledger.Field, record []string, line int, summary *ImportSummary) bool {
	values := make(map[ledger.Field]string, len(columns))
	for i, field := range columns {
		if i < len(record) {
			values[field] = strings.TrimSpace(record[i])
		}
	}
	name := values[ledger.FieldProductName]
	if name == "" {
		summary.Failures = append(summary.Failures, ImportFailure{Line: line, Field: string(ledger.FieldProductName), Message: "product name is blank"})
		return false
	}

	key, err := nextRow(ctx, table)
	if err != nil {
		summary.Failures = append(summary.Failures, ImportFailure{Line: line, Message: err.Error()})
		return false
	}
	if err := table.SetField(ctx, key, ledger.FieldProductName, name); err != nil {
		summary.Failures = append(summary.Failures, ImportFailure{Line: line, Field: string(ledger.FieldProductName), Message: err.Error()})
		return false
	}
	for _, field := range columns {
		value := values[field]
		if field == ledger.FieldProductName || value == "" {
			continue
		}
		if err := table.SetField(ctx, key, field, value); err != nil {
			c.logger.Warn("import cell rejected",
				slog.Int("line", line),
				slog.String("field", string(field)),
				slog.Any("error", err))
			summary.Failures = append(summary.Failures, ImportFailure{Line: line, Field: string(field), Message: err.Error()})
		}
	}
	return true
}

// TotalsOptions configures the totals command.
type TotalsOptions struct {
	OrderID    int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// TotalsCommand recomputes an order's totals from its current rows.
func (c *LedgerCLI) TotalsCommand(ctx context.Context, opts TotalsOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.OrderID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "ledger totals: --order is required and must be positive")
		return 1
	}
	l, err := c.load(ctx, opts.OrderID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger totals: %v\n", err)
		return 1
	}
	totals, err := l.Totals(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger totals: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(totals); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger totals: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "Order %d: %d invoice row(s), %d cost row(s)\n",
		opts.OrderID, persistedRows(l.Invoice), persistedRows(l.Cost))
	renderTotals(opts.Stdout, totals)
	return 0
}

func (c *LedgerCLI) load(ctx context.Context, orderID int64) (*ledger.Ledger, error) {
	items, err := c.backend.ListItems(ctx, orderID, "")
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	synchronizer := ledger.NewSynchronizer(c.backend, c.logger, c.recorder)
	aggregator := ledger.NewAggregator(c.backend, c.logger, c.lookup)
	l := ledger.NewLedger(orderID, synchronizer, aggregator, c.logger)
	l.Load(items)
	return l, nil
}

func parseHeader(itemType ledger.ItemType, header []string) ([]ledger.Field, error) {
	columns := make([]ledger.Field, len(header))
	hasName := false
	for i, raw := range header {
		field := ledger.Field(strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))))
		if err := ledger.CheckEditable(itemType, field); err != nil {
			return nil, fmt.Errorf("column %d: %w", i+1, err)
		}
		if field == ledger.FieldProductName {
			hasName = true
		}
		columns[i] = field
	}
	if !hasName {
		return nil, errors.New("header must contain product_name")
	}
	return columns, nil
}

// nextRow returns the trailing template row, adding one when the table ends
// with a persisted row.
func nextRow(ctx context.Context, table *ledger.Table) (string, error) {
	rows := table.Rows()
	last := rows[len(rows)-1]
	if last.State == ledger.RowStateUninitialized {
		return last.Key, nil
	}
	added, err := table.AddRowAfter(ctx, last.Key)
	if err != nil {
		return "", err
	}
	return added.Key, nil
}

func persistedRows(table *ledger.Table) int {
	n := 0
	for _, row := range table.Rows() {
		if row.State == ledger.RowStatePersisted {
			n++
		}
	}
	return n
}

func renderImportHuman(out io.Writer, summary ImportSummary) {
	_, _ = fmt.Fprintf(out, "Imported %d %s row(s) into order %d.\n", summary.Imported, summary.Type, summary.OrderID)
	if len(summary.Failures) > 0 {
		_, _ = fmt.Fprintf(out, "%d problem(s):\n", len(summary.Failures))
		for _, f := range summary.Failures {
			if f.Field != "" {
				_, _ = fmt.Fprintf(out, " - line %d %s: %s\n", f.Line, f.Field, f.Message)
				continue
			}
			_, _ = fmt.Fprintf(out, " - line %d: %s\n", f.Line, f.Message)
		}
	}
	renderTotals(out, summary.Totals)
}

func renderTotals(out io.Writer, totals ledger.Totals) {
	_, _ = fmt.Fprintf(out, "Invoice total:   %s\n", export.Yen(totals.InvoiceTotal))
	_, _ = fmt.Fprintf(out, "Cost total:      %s\n", export.Yen(totals.CostTotal))
	_, _ = fmt.Fprintf(out, "Cost tax:        %s\n", export.Yen(totals.CostTax))
	_, _ = fmt.Fprintf(out, "Deductible cost: %s\n", export.Yen(totals.DeductibleCost))
	_, _ = fmt.Fprintf(out, "Profit:          %s\n", export.Yen(totals.Profit))
}
