package suppliers

import "errors"

var (
	// ErrNotFound indicates the supplier does not exist.
	ErrNotFound = errors.New("suppliers: not found")
	// ErrInvalidProfile indicates an invalid tax category or invoice number.
	ErrInvalidProfile = errors.New("suppliers: invalid tax profile")
	// ErrInvalidSupplier indicates a supplier without code or name.
	ErrInvalidSupplier = errors.New("suppliers: invalid supplier")
)
