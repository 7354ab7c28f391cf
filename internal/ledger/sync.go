package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// inflight tracks per-row operations so a duplicate trigger can be refused
// without serialising unrelated rows.
type inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (f *inflight) acquire(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = make(map[string]struct{})
	}
	if _, busy := f.keys[key]; busy {
		return false
	}
	f.keys[key] = struct{}{}
	return true
}

func (f *inflight) release(key string) {
	f.mu.Lock()
	delete(f.keys, key)
	f.mu.Unlock()
}

func (f *inflight) busy(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[key]
	return ok
}

// Synchronizer maps row edits onto Store calls.
type Synchronizer struct {
	store    Store
	logger   *slog.Logger
	recorder Recorder
	creating inflight
}

// NewSynchronizer constructs a Synchronizer. recorder may be nil.
func NewSynchronizer(store Store, logger *slog.Logger, recorder Recorder) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{store: store, logger: logger, recorder: recorder}
}

// Creating reports whether a creation call is in flight for the row key.
func (s *Synchronizer) Creating(key string) bool {
	return s.creating.busy(key)
}

// CreateRow persists a pending row. Only one call per row key may be in flight.
func (s *Synchronizer) CreateRow(ctx context.Context, key string, itemType ItemType, orderID int64, field Field, value string) (int64, error) {
	if orderID <= 0 {
		return 0, ErrNoOrder
	}
	if field == FieldProductName && strings.TrimSpace(value) == "" {
		return 0, fmt.Errorf("%w: product name required", ErrValidation)
	}
	if !s.creating.acquire(key) {
		return 0, ErrInProgress
	}
	defer s.creating.release(key)

	id, err := s.store.CreateItem(ctx, CreateItemRequest{
		Type:      itemType,
		OrderID:   orderID,
		Field:     field,
		Value:     value,
		ClientKey: key,
	})
	if err == nil && id <= 0 {
		err = fmt.Errorf("store returned invalid id %d", id)
	}
	s.observe("create", itemType, err)
	if err != nil {
		s.logger.Error("create line item", slog.String("type", string(itemType)), slog.Int64("order_id", orderID), slog.Any("error", err))
		return 0, &SyncError{Op: "create", Type: itemType, Field: field, Err: err}
	}
	return id, nil
}

// SaveField persists one field of an already created row.
func (s *Synchronizer) SaveField(ctx context.Context, itemType ItemType, rowID int64, field Field, value string, orderID int64) error {
	if orderID <= 0 {
		return ErrNoOrder
	}
	if rowID == 0 {
		return ErrRowPending
	}
	if err := CheckEditable(itemType, field); err != nil {
		return err
	}
	err := s.store.UpdateItem(ctx, itemType, rowID, field, value, orderID)
	s.observe("update", itemType, err)
	if err != nil {
		s.logger.Warn("save line item field", slog.String("type", string(itemType)), slog.Int64("item_id", rowID), slog.String("field", string(field)), slog.Any("error", err))
		return &SyncError{Op: "update", Type: itemType, RowID: rowID, Field: field, Err: err}
	}
	return nil
}

// DeleteRow removes a row server-side. Rows that were never persisted need no call.
func (s *Synchronizer) DeleteRow(ctx context.Context, itemType ItemType, rowID int64, orderID int64) error {
	if rowID == 0 {
		return nil
	}
	if orderID <= 0 {
		return ErrNoOrder
	}
	err := s.store.DeleteItem(ctx, itemType, rowID, orderID)
	s.observe("delete", itemType, err)
	if err != nil {
		s.logger.Warn("delete line item", slog.String("type", string(itemType)), slog.Int64("item_id", rowID), slog.Any("error", err))
		return &SyncError{Op: "delete", Type: itemType, RowID: rowID, Err: err}
	}
	return nil
}

// ReorderRows sends the complete ordering of a table in one call.
func (s *Synchronizer) ReorderRows(ctx context.Context, itemType ItemType, orderID int64, positions []Position) error {
	if orderID <= 0 {
		return ErrNoOrder
	}
	if len(positions) == 0 {
		return nil
	}
	err := s.store.ReorderItems(ctx, itemType, orderID, positions)
	s.observe("reorder", itemType, err)
	if err != nil {
		s.logger.Warn("reorder line items", slog.String("type", string(itemType)), slog.Int64("order_id", orderID), slog.Any("error", err))
		return &SyncError{Op: "reorder", Type: itemType, Err: err}
	}
	return nil
}

func (s *Synchronizer) observe(op string, itemType ItemType, err error) {
	if s.recorder != nil {
		s.recorder.ObserveSync(op, itemType, err)
	}
}
