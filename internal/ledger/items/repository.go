package items

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
	"github.com/KantanPro/ktp-ledger/internal/platform/db"
)

// Repository persists line items of orders.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	GetOrder(ctx context.Context, orderID int64) (Order, error)
	List(ctx context.Context, orderID int64, itemType ledger.ItemType) ([]ledger.LineItem, error)
	GetForUpdate(ctx context.Context, itemType ledger.ItemType, orderID, id int64) (ledger.LineItem, error)
	Insert(ctx context.Context, item ledger.LineItem) (int64, error)
	UpdateColumn(ctx context.Context, itemType ledger.ItemType, orderID, id int64, column string, value any) error
	UpdateAmount(ctx context.Context, itemType ledger.ItemType, orderID, id int64, amount decimal.Decimal) error
	Delete(ctx context.Context, itemType ledger.ItemType, orderID, id int64) error
	SetSortOrder(ctx context.Context, itemType ledger.ItemType, orderID, id int64, sortOrder int) error
	CompactSortOrder(ctx context.Context, itemType ledger.ItemType, orderID int64) error
	UpsertSnapshot(ctx context.Context, snapshot TotalsSnapshot) error
	Snapshot(ctx context.Context, orderID int64) (TotalsSnapshot, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository returns a pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

func (r *repository) GetOrder(ctx context.Context, orderID int64) (Order, error) {
	var o Order
	err := r.db.QueryRow(ctx, `SELECT id, title, client_name FROM orders WHERE id = $1`, orderID).Scan(&o.ID, &o.Title, &o.ClientName)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

const itemColumns = `id, order_id, item_type, product_name, price, quantity, unit, tax_rate, amount,
supplier_id, purchase_ref, remarks, sort_order, updated_at`

func scanItem(row pgx.Row) (ledger.LineItem, error) {
	var (
		item       ledger.LineItem
		taxRate    decimal.NullDecimal
		supplierID *int64
	)
	err := row.Scan(&item.ID, &item.OrderID, &item.Type, &item.ProductName, &item.UnitPrice, &item.Quantity,
		&item.Unit, &taxRate, &item.Amount, &supplierID, &item.PurchaseRef, &item.Remarks, &item.SortOrder, &item.UpdatedAt)
	if err != nil {
		return ledger.LineItem{}, err
	}
	if taxRate.Valid {
		rate := taxRate.Decimal
		item.TaxRate = &rate
	}
	if supplierID != nil {
		item.SupplierID = *supplierID
	}
	item.State = ledger.RowStatePersisted
	return item, nil
}

func (r *repository) List(ctx context.Context, orderID int64, itemType ledger.ItemType) ([]ledger.LineItem, error) {
	query := `SELECT ` + itemColumns + ` FROM order_line_items WHERE order_id = $1`
	args := []interface{}{orderID}
	if itemType != "" {
		query += ` AND item_type = $2`
		args = append(args, itemType)
	}
	query += ` ORDER BY item_type, sort_order, id`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	var out []ledger.LineItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *repository) GetForUpdate(ctx context.Context, itemType ledger.ItemType, orderID, id int64) (ledger.LineItem, error) {
	query := `SELECT ` + itemColumns + ` FROM order_line_items WHERE id = $1 AND order_id = $2 AND item_type = $3 FOR UPDATE`
	item, err := scanItem(r.db.QueryRow(ctx, query, id, orderID, itemType))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.LineItem{}, ErrNotFound
	}
	return item, err
}

// Insert appends the item after the last row of its table.
func (r *repository) Insert(ctx context.Context, item ledger.LineItem) (int64, error) {
	query := `INSERT INTO order_line_items
(order_id, item_type, product_name, price, quantity, unit, tax_rate, amount, supplier_id, purchase_ref, remarks, sort_order, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
	(SELECT COALESCE(MAX(sort_order), 0) + 1 FROM order_line_items WHERE order_id = $1 AND item_type = $2), $12, $12)
RETURNING id`
	var id int64
	err := r.db.QueryRow(ctx, query, item.OrderID, item.Type, item.ProductName, item.UnitPrice, item.Quantity, item.Unit,
		nullDecimal(item.TaxRate), item.Amount, nullSupplier(item.SupplierID), item.PurchaseRef, item.Remarks, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert line item: %w", err)
	}
	return id, nil
}

func (r *repository) UpdateColumn(ctx context.Context, itemType ledger.ItemType, orderID, id int64, column string, value any) error {
	// column always comes from the allow-list in model.go.
	query := fmt.Sprintf(`UPDATE order_line_items SET %s = $1, updated_at = $2 WHERE id = $3 AND order_id = $4 AND item_type = $5`, column)
	tag, err := r.db.Exec(ctx, query, value, time.Now(), id, orderID, itemType)
	if err != nil {
		return fmt.Errorf("update line item %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) UpdateAmount(ctx context.Context, itemType ledger.ItemType, orderID, id int64, amount decimal.Decimal) error {
	return r.UpdateColumn(ctx, itemType, orderID, id, "amount", amount)
}

func (r *repository) Delete(ctx context.Context, itemType ledger.ItemType, orderID, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM order_line_items WHERE id = $1 AND order_id = $2 AND item_type = $3`, id, orderID, itemType)
	if err != nil {
		return fmt.Errorf("delete line item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) SetSortOrder(ctx context.Context, itemType ledger.ItemType, orderID, id int64, sortOrder int) error {
	tag, err := r.db.Exec(ctx, `UPDATE order_line_items SET sort_order = $1, updated_at = $2 WHERE id = $3 AND order_id = $4 AND item_type = $5`,
		sortOrder, time.Now(), id, orderID, itemType)
	if err != nil {
		return fmt.Errorf("reorder line item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompactSortOrder renumbers the table 1..N keeping the current order.
func (r *repository) CompactSortOrder(ctx context.Context, itemType ledger.ItemType, orderID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE order_line_items AS li SET sort_order = ranked.rn
FROM (
	SELECT id, ROW_NUMBER() OVER (ORDER BY sort_order, id) AS rn
	FROM order_line_items WHERE order_id = $1 AND item_type = $2
) AS ranked
WHERE li.id = ranked.id AND li.sort_order <> ranked.rn`, orderID, itemType)
	if err != nil {
		return fmt.Errorf("compact sort order: %w", err)
	}
	return nil
}

func (r *repository) UpsertSnapshot(ctx context.Context, s TotalsSnapshot) error {
	_, err := r.db.Exec(ctx, `INSERT INTO order_profit_snapshots
(order_id, invoice_total, cost_total, cost_tax, deductible_cost, profit, computed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (order_id) DO UPDATE SET
	invoice_total = EXCLUDED.invoice_total,
	cost_total = EXCLUDED.cost_total,
	cost_tax = EXCLUDED.cost_tax,
	deductible_cost = EXCLUDED.deductible_cost,
	profit = EXCLUDED.profit,
	computed_at = EXCLUDED.computed_at`,
		s.OrderID, s.InvoiceTotal, s.CostTotal, s.CostTax, s.DeductibleCost, s.Profit, s.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert profit snapshot: %w", err)
	}
	return nil
}

func (r *repository) Snapshot(ctx context.Context, orderID int64) (TotalsSnapshot, error) {
	var s TotalsSnapshot
	err := r.db.QueryRow(ctx, `SELECT order_id, invoice_total, cost_total, cost_tax, deductible_cost, profit, computed_at
FROM order_profit_snapshots WHERE order_id = $1`, orderID).
		Scan(&s.OrderID, &s.InvoiceTotal, &s.CostTotal, &s.CostTax, &s.DeductibleCost, &s.Profit, &s.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TotalsSnapshot{}, ErrNotFound
	}
	return s, err
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullSupplier(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
