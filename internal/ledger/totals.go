package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	defaultLookupTimeout = 5 * time.Second
	defaultLookupWorkers = 8
)

var hundred = decimal.NewFromInt(100)

// AggregatorConfig tunes supplier lookups during aggregation.
type AggregatorConfig struct {
	LookupTimeout time.Duration
	LookupWorkers int
}

// Aggregator combines invoice and cost rows into order totals.
type Aggregator struct {
	resolver ProfileResolver
	logger   *slog.Logger
	timeout  time.Duration
	workers  int
}

// NewAggregator constructs an Aggregator. A nil resolver treats every supplier with the default profile.
func NewAggregator(resolver ProfileResolver, logger *slog.Logger, cfg AggregatorConfig) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	if cfg.LookupWorkers <= 0 {
		cfg.LookupWorkers = defaultLookupWorkers
	}
	return &Aggregator{resolver: resolver, logger: logger, timeout: cfg.LookupTimeout, workers: cfg.LookupWorkers}
}

// WithResolver returns a copy bound to another resolver, typically a per-request loader.
func (a *Aggregator) WithResolver(resolver ProfileResolver) *Aggregator {
	clone := *a
	clone.resolver = resolver
	return &clone
}

// ComputeTotals resolves every cost row's supplier profile and sums both tables.
func (a *Aggregator) ComputeTotals(ctx context.Context, invoiceRows, costRows []LineItem) (Totals, error) {
	if len(invoiceRows) == 0 && len(costRows) == 0 {
		return ZeroTotals(), nil
	}
	profiles, err := a.resolveProfiles(ctx, costRows)
	if err != nil {
		return Totals{}, err
	}
	return SumTotals(invoiceRows, costRows, profiles), nil
}

// resolveProfiles fans out one lookup per cost row and joins before returning.
func (a *Aggregator) resolveProfiles(ctx context.Context, costRows []LineItem) ([]SupplierTaxProfile, error) {
	profiles := make([]SupplierTaxProfile, len(costRows))
	if len(costRows) == 0 {
		return profiles, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i := range costRows {
		supplierID := costRows[i].SupplierID
		if supplierID == 0 || a.resolver == nil {
			profiles[i] = DefaultTaxProfile(supplierID)
			continue
		}
		g.Go(func() error {
			profiles[i] = a.lookup(gctx, supplierID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return profiles, ctx.Err()
}

func (a *Aggregator) lookup(ctx context.Context, supplierID int64) SupplierTaxProfile {
	lookupCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		profile SupplierTaxProfile
		err     error
	}
	// Resolvers that ignore ctx must not stall the join.
	done := make(chan outcome, 1)
	go func() {
		profile, err := a.resolver.SupplierTaxProfile(lookupCtx, supplierID)
		done <- outcome{profile: profile, err: err}
	}()
	var profile SupplierTaxProfile
	var err error
	select {
	case res := <-done:
		profile, err = res.profile, res.err
	case <-lookupCtx.Done():
		err = lookupCtx.Err()
	}
	if err != nil {
		a.logger.Warn("supplier tax profile lookup failed, using default",
			slog.Int64("supplier_id", supplierID), slog.Any("error", err))
		return DefaultTaxProfile(supplierID)
	}
	if profile.TaxCategory != TaxExclusive && profile.TaxCategory != TaxInclusive {
		profile.TaxCategory = TaxInclusive
	}
	profile.SupplierID = supplierID
	return profile
}

// SumTotals computes totals from rows and already resolved profiles, index-aligned with costRows.
func SumTotals(invoiceRows, costRows []LineItem, profiles []SupplierTaxProfile) Totals {
	totals := ZeroTotals()

	invoiceSum := decimal.Zero
	for _, row := range invoiceRows {
		invoiceSum = invoiceSum.Add(row.Amount)
	}
	totals.InvoiceTotal = invoiceSum.Ceil()

	costSum := decimal.Zero
	deductible := decimal.Zero
	for i, row := range costRows {
		profile := DefaultTaxProfile(row.SupplierID)
		if i < len(profiles) {
			profile = profiles[i]
		}
		tax := RowTax(row.Amount, row.TaxRate, profile.TaxCategory)
		costSum = costSum.Add(row.Amount)
		totals.CostTax = totals.CostTax.Add(tax)
		deductible = deductible.Add(deductibleCost(row.Amount, tax, profile))
	}
	totals.CostTotal = costSum.Ceil()
	totals.DeductibleCost = deductible.Ceil()
	totals.Profit = totals.InvoiceTotal.Sub(totals.DeductibleCost)
	return totals
}

// RowTax returns the consumption tax of one cost row. Rows without a rate carry no tax.
func RowTax(amount decimal.Decimal, rate *decimal.Decimal, category TaxCategory) decimal.Decimal {
	if rate == nil || rate.IsZero() {
		return decimal.Zero
	}
	ratio := rate.Div(hundred)
	if category == TaxExclusive {
		return amount.Mul(ratio).Ceil()
	}
	return amount.Mul(*rate).Div(hundred.Add(*rate)).Ceil()
}

// deductibleCost is the tax-exclusive cost for qualified suppliers and the
// full tax-inclusive amount otherwise.
func deductibleCost(amount, tax decimal.Decimal, profile SupplierTaxProfile) decimal.Decimal {
	if profile.Qualified() {
		if profile.TaxCategory == TaxExclusive {
			return amount
		}
		return amount.Sub(tax)
	}
	if profile.TaxCategory == TaxExclusive {
		return amount.Add(tax)
	}
	return amount
}
