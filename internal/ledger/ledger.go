// Package ledger keeps the invoice and cost line items of an order in sync
// with a persistence store and derives tax and profit totals from them.
package ledger

import (
	"context"
	"log/slog"
	"sync"
)

// Ledger groups the invoice and cost tables of one order.
type Ledger struct {
	OrderID int64
	Invoice *Table
	Cost    *Table

	aggregator *Aggregator
	logger     *slog.Logger

	mu      sync.Mutex
	watcher func(Totals, error)
}

// NewLedger creates both tables for the order, each starting with a template row.
func NewLedger(orderID int64, synchronizer *Synchronizer, aggregator *Aggregator, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		OrderID:    orderID,
		Invoice:    NewTable(ItemTypeInvoice, orderID, synchronizer, logger),
		Cost:       NewTable(ItemTypeCost, orderID, synchronizer, logger),
		aggregator: aggregator,
		logger:     logger,
	}
	l.Invoice.onChange = l.changed
	l.Cost.onChange = l.changed
	return l
}

// Table returns the table for the item type, or nil for an unknown type.
func (l *Ledger) Table(itemType ItemType) *Table {
	switch itemType {
	case ItemTypeInvoice:
		return l.Invoice
	case ItemTypeCost:
		return l.Cost
	default:
		return nil
	}
}

// Load populates both tables from persisted items.
func (l *Ledger) Load(items []LineItem) {
	var invoice, cost []LineItem
	for _, item := range items {
		switch item.Type {
		case ItemTypeInvoice:
			invoice = append(invoice, item)
		case ItemTypeCost:
			cost = append(cost, item)
		}
	}
	l.Invoice.Load(invoice)
	l.Cost.Load(cost)
}

// Totals recomputes the order totals from the current rows.
func (l *Ledger) Totals(ctx context.Context) (Totals, error) {
	return l.aggregator.ComputeTotals(ctx, l.Invoice.Rows(), l.Cost.Rows())
}

// Watch registers a callback receiving fresh totals after every row change.
func (l *Ledger) Watch(fn func(Totals, error)) {
	l.mu.Lock()
	l.watcher = fn
	l.mu.Unlock()
}

func (l *Ledger) changed(ctx context.Context, itemType ItemType) {
	l.mu.Lock()
	fn := l.watcher
	l.mu.Unlock()
	if fn == nil {
		return
	}
	totals, err := l.Totals(ctx)
	if err != nil {
		l.logger.Warn("recompute totals", slog.String("type", string(itemType)), slog.Any("error", err))
	}
	fn(totals, err)
}
