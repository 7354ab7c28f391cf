package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates input that cannot be persisted as given.
	ErrValidation = errors.New("ledger: validation failed")
	// ErrPersist indicates the persistence collaborator rejected or failed a call.
	ErrPersist = errors.New("ledger: persistence failed")
	// ErrLastRow is returned when deleting the only row of a table.
	ErrLastRow = errors.New("ledger: a table must keep at least one row")
	// ErrInProgress is returned when the same row already has a creation in flight.
	ErrInProgress = errors.New("ledger: operation already in progress for row")
	// ErrRowPending is returned when a non-name field is edited before creation succeeds.
	ErrRowPending = errors.New("ledger: row is not persisted yet")
	// ErrReadOnlyField is returned for derived fields such as amount.
	ErrReadOnlyField = errors.New("ledger: field is read-only")
	// ErrUnknownField is returned for fields outside the catalogue.
	ErrUnknownField = errors.New("ledger: unknown field")
	// ErrUnknownRow is returned when a row key is not part of the table.
	ErrUnknownRow = errors.New("ledger: unknown row")
	// ErrNoOrder is returned when a call lacks an order context.
	ErrNoOrder = errors.New("ledger: order id required")
)

// SyncError describes a failed persistence call for a single row.
type SyncError struct {
	Op    string
	Type  ItemType
	RowID int64
	Field Field
	Err   error
}

func (e *SyncError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("ledger: %s %s item %d field %s: %v", e.Op, e.Type, e.RowID, e.Field, e.Err)
	}
	return fmt.Sprintf("ledger: %s %s item %d: %v", e.Op, e.Type, e.RowID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrPersist) match any SyncError.
func (e *SyncError) Is(target error) bool {
	return target == ErrPersist
}
