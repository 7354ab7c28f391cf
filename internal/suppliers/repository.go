package suppliers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads and writes supplier rows.
type Repository interface {
	Get(ctx context.Context, id int64) (Supplier, error)
	GetMany(ctx context.Context, ids []int64) ([]Supplier, error)
	Create(ctx context.Context, supplier Supplier) (Supplier, error)
	UpdateTaxProfile(ctx context.Context, id int64, update TaxProfileUpdate) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const supplierColumns = `id, code, name, email, phone, tax_category, qualified_invoice_number, created_at, updated_at`

func scanSupplier(row pgx.Row) (Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Email, &s.Phone, &s.TaxCategory, &s.QualifiedInvoiceNumber, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *repository) Get(ctx context.Context, id int64) (Supplier, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers WHERE id = $1`
	s, err := scanSupplier(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrNotFound
	}
	if err != nil {
		return Supplier{}, fmt.Errorf("get supplier: %w", err)
	}
	return s, nil
}

func (r *repository) GetMany(ctx context.Context, ids []int64) ([]Supplier, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + supplierColumns + ` FROM suppliers WHERE id = ANY($1)`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

// Create inserts the supplier or, when its code already exists, refreshes
// the stored name, contact and tax attributes.
func (r *repository) Create(ctx context.Context, supplier Supplier) (Supplier, error) {
	query := `INSERT INTO suppliers (code, name, email, phone, tax_category, qualified_invoice_number, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone,
	tax_category = EXCLUDED.tax_category, qualified_invoice_number = EXCLUDED.qualified_invoice_number,
	updated_at = EXCLUDED.updated_at
RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, query, supplier.Code, supplier.Name, supplier.Email, supplier.Phone,
		supplier.TaxCategory, supplier.QualifiedInvoiceNumber, time.Now()).
		Scan(&supplier.ID, &supplier.CreatedAt, &supplier.UpdatedAt)
	if err != nil {
		return Supplier{}, fmt.Errorf("create supplier %s: %w", supplier.Code, err)
	}
	return supplier, nil
}

func (r *repository) UpdateTaxProfile(ctx context.Context, id int64, update TaxProfileUpdate) error {
	query := `UPDATE suppliers SET tax_category = $1, qualified_invoice_number = $2, updated_at = $3 WHERE id = $4`
	tag, err := r.db.Exec(ctx, query, update.TaxCategory, update.QualifiedInvoiceNumber, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
