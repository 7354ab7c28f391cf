package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Table owns the ordered rows of one item type for one order.
type Table struct {
	mu       sync.Mutex
	itemType ItemType
	orderID  int64
	rows     []*LineItem
	sync     *Synchronizer
	logger   *slog.Logger
	seq      map[string]uint64
	deleting map[string]struct{}
	onChange func(context.Context, ItemType)
}

// NewTable returns a table holding a single template row.
func NewTable(itemType ItemType, orderID int64, synchronizer *Synchronizer, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Table{
		itemType: itemType,
		orderID:  orderID,
		sync:     synchronizer,
		logger:   logger,
		seq:      make(map[string]uint64),
		deleting: make(map[string]struct{}),
	}
	t.rows = []*LineItem{NewLineItem(itemType, orderID)}
	t.renumber()
	return t
}

// Type returns the item type held by the table.
func (t *Table) Type() ItemType { return t.itemType }

// OrderID returns the owning order.
func (t *Table) OrderID() int64 { return t.orderID }

// Load replaces the rows with persisted items ordered by SortOrder.
func (t *Table) Load(items []LineItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sorted := append([]LineItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SortOrder < sorted[j].SortOrder })
	rows := make([]*LineItem, 0, len(sorted))
	for i := range sorted {
		item := sorted[i].clone()
		if item.Key == "" {
			item.Key = NewLineItem(t.itemType, t.orderID).Key
		}
		item.Type = t.itemType
		item.OrderID = t.orderID
		if item.ID > 0 {
			item.State = RowStatePersisted
		} else if item.State == "" {
			item.State = RowStateUninitialized
		}
		item.Recalculate()
		rows = append(rows, &item)
	}
	if len(rows) == 0 {
		rows = append(rows, NewLineItem(t.itemType, t.orderID))
	}
	t.rows = rows
	t.renumber()
}

// Rows returns a snapshot of the rows in visual order.
func (t *Table) Rows() []LineItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]LineItem, len(t.rows))
	for i, row := range t.rows {
		out[i] = row.clone()
	}
	return out
}

// Row returns a snapshot of a single row.
func (t *Table) Row(key string) (LineItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, row := t.find(key)
	if row == nil {
		return LineItem{}, false
	}
	return row.clone(), true
}

// Len returns the row count.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// Subtotal sums the row amounts of this table.
func (t *Table) Subtotal() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	sum := decimal.Zero
	for _, row := range t.rows {
		sum = sum.Add(row.Amount)
	}
	return sum.Ceil()
}

// FieldName renders the form name of a row's cell based on its current visual index.
func (t *Table) FieldName(key string, field Field) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, row := t.find(key)
	if row == nil {
		return "", ErrUnknownRow
	}
	return FormFieldName(t.itemType, idx, field), nil
}

// AddRowAfter inserts a template row directly after the given row.
func (t *Table) AddRowAfter(ctx context.Context, key string) (LineItem, error) {
	t.mu.Lock()
	idx, row := t.find(key)
	if row == nil {
		t.mu.Unlock()
		return LineItem{}, ErrUnknownRow
	}
	added := NewLineItem(t.itemType, t.orderID)
	t.rows = append(t.rows, nil)
	copy(t.rows[idx+2:], t.rows[idx+1:])
	t.rows[idx+1] = added
	t.renumber()
	snapshot := added.clone()
	t.mu.Unlock()

	t.notify(ctx)
	return snapshot, nil
}

// SetField applies a user edit, recomputes the amount and persists when allowed.
func (t *Table) SetField(ctx context.Context, key string, field Field, value string) error {
	if err := CheckEditable(t.itemType, field); err != nil {
		return err
	}
	t.mu.Lock()
	_, row := t.find(key)
	if row == nil {
		t.mu.Unlock()
		return ErrUnknownRow
	}
	switch row.State {
	case RowStateUninitialized:
		if field != FieldProductName {
			t.mu.Unlock()
			return ErrRowPending
		}
		if err := ApplyField(row, field, value); err != nil {
			t.mu.Unlock()
			return err
		}
		if row.ProductName == "" {
			t.mu.Unlock()
			return nil
		}
		row.State = RowStatePendingCreation
		name := row.ProductName
		t.mu.Unlock()
		return t.create(ctx, key, name)
	case RowStatePendingCreation:
		t.mu.Unlock()
		if field == FieldProductName {
			return ErrInProgress
		}
		return ErrRowPending
	case RowStatePersisted:
		previous := FieldValue(row, field)
		if err := ApplyField(row, field, value); err != nil {
			t.mu.Unlock()
			return err
		}
		t.mu.Unlock()
		t.notify(ctx)
		return t.save(ctx, key, field, previous)
	default:
		t.mu.Unlock()
		return ErrUnknownRow
	}
}

// RetryField re-sends the current value of a field flagged unsaved.
func (t *Table) RetryField(ctx context.Context, key string, field Field) error {
	t.mu.Lock()
	_, row := t.find(key)
	if row == nil {
		t.mu.Unlock()
		return ErrUnknownRow
	}
	lastGood, unsaved := row.unsaved[field]
	t.mu.Unlock()
	if !unsaved {
		return nil
	}
	return t.save(ctx, key, field, lastGood)
}

// RevertField restores the last value known to be persisted and clears the unsaved flag.
func (t *Table) RevertField(ctx context.Context, key string, field Field) error {
	t.mu.Lock()
	_, row := t.find(key)
	if row == nil {
		t.mu.Unlock()
		return ErrUnknownRow
	}
	lastGood, unsaved := row.unsaved[field]
	if !unsaved {
		t.mu.Unlock()
		return nil
	}
	if err := ApplyField(row, field, lastGood); err != nil {
		t.mu.Unlock()
		return err
	}
	row.clearUnsaved(field)
	t.mu.Unlock()
	t.notify(ctx)
	return nil
}

// DeleteRow removes a row. The last remaining row can never be deleted.
func (t *Table) DeleteRow(ctx context.Context, key string) error {
	t.mu.Lock()
	if _, busy := t.deleting[key]; busy {
		t.mu.Unlock()
		return ErrInProgress
	}
	// Rows with a delete in flight no longer count toward the last-row rule.
	if len(t.rows)-len(t.deleting) <= 1 {
		t.mu.Unlock()
		return ErrLastRow
	}
	_, row := t.find(key)
	if row == nil {
		t.mu.Unlock()
		return ErrUnknownRow
	}
	if row.State != RowStatePersisted {
		// Pending creations are dropped locally; create() cleans up the server row if it lands.
		t.remove(key)
		t.mu.Unlock()
		t.notify(ctx)
		return nil
	}
	rowID := row.ID
	t.deleting[key] = struct{}{}
	t.mu.Unlock()

	if err := t.sync.DeleteRow(ctx, t.itemType, rowID, t.orderID); err != nil {
		t.mu.Lock()
		delete(t.deleting, key)
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	delete(t.deleting, key)
	t.remove(key)
	if len(t.rows) == 0 {
		t.rows = append(t.rows, NewLineItem(t.itemType, t.orderID))
		t.renumber()
	}
	t.mu.Unlock()
	t.notify(ctx)
	return nil
}

// Reorder applies a new visual order given as the complete list of row keys.
func (t *Table) Reorder(ctx context.Context, keys []string) error {
	t.mu.Lock()
	if len(keys) != len(t.rows) {
		t.mu.Unlock()
		return fmt.Errorf("%w: reorder needs %d keys, got %d", ErrValidation, len(t.rows), len(keys))
	}
	byKey := make(map[string]*LineItem, len(t.rows))
	for _, row := range t.rows {
		byKey[row.Key] = row
	}
	reordered := make([]*LineItem, 0, len(keys))
	for _, key := range keys {
		row, ok := byKey[key]
		if !ok {
			t.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownRow, key)
		}
		delete(byKey, key)
		reordered = append(reordered, row)
	}
	previous := t.rows
	t.rows = reordered
	t.renumber()
	positions := t.positions()
	t.mu.Unlock()

	if err := t.sync.ReorderRows(ctx, t.itemType, t.orderID, positions); err != nil {
		t.mu.Lock()
		if sameRows(t.rows, reordered) {
			t.rows = previous
			t.renumber()
		}
		t.mu.Unlock()
		return err
	}
	t.notify(ctx)
	return nil
}

// MoveRow drags a row to a zero-based index and persists the resulting order.
func (t *Table) MoveRow(ctx context.Context, key string, index int) error {
	t.mu.Lock()
	from, row := t.find(key)
	if row == nil {
		t.mu.Unlock()
		return ErrUnknownRow
	}
	if index < 0 || index >= len(t.rows) {
		t.mu.Unlock()
		return fmt.Errorf("%w: index %d out of range", ErrValidation, index)
	}
	keys := make([]string, 0, len(t.rows))
	for i, r := range t.rows {
		if i != from {
			keys = append(keys, r.Key)
		}
	}
	keys = append(keys[:index], append([]string{key}, keys[index:]...)...)
	t.mu.Unlock()
	return t.Reorder(ctx, keys)
}

// Positions returns the persisted rows with their current rank.
func (t *Table) Positions() []Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positions()
}

func (t *Table) create(ctx context.Context, key, name string) error {
	id, err := t.sync.CreateRow(ctx, key, t.itemType, t.orderID, FieldProductName, name)

	t.mu.Lock()
	idx, row := t.find(key)
	if row == nil {
		t.mu.Unlock()
		if err == nil {
			// The row was deleted locally while creation was in flight.
			if delErr := t.sync.DeleteRow(ctx, t.itemType, id, t.orderID); delErr != nil {
				t.logger.Warn("drop orphaned line item", slog.Int64("item_id", id), slog.Any("error", delErr))
			}
		}
		return err
	}
	if err != nil {
		row.State = RowStateUninitialized
		t.mu.Unlock()
		return err
	}
	row.ID = id
	row.State = RowStatePersisted
	needsOrder := idx != len(t.rows)-1
	positions := t.positions()
	t.mu.Unlock()

	if needsOrder {
		// New rows are appended server-side; align them with the visual position.
		if err := t.sync.ReorderRows(ctx, t.itemType, t.orderID, positions); err != nil {
			return err
		}
	}
	t.notify(ctx)
	return nil
}

func (t *Table) save(ctx context.Context, key string, field Field, lastGood string) error {
	t.mu.Lock()
	_, row := t.find(key)
	if row == nil {
		t.mu.Unlock()
		return ErrUnknownRow
	}
	seqKey := key + "|" + string(field)
	t.seq[seqKey]++
	seq := t.seq[seqKey]
	rowID := row.ID
	value := FieldValue(row, field)
	t.mu.Unlock()

	err := t.sync.SaveField(ctx, t.itemType, rowID, field, value, t.orderID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seq[seqKey] != seq {
		// A newer save of the same field superseded this one.
		return err
	}
	_, row = t.find(key)
	if row == nil {
		return err
	}
	if err != nil {
		row.markUnsaved(field, lastGood)
		return err
	}
	row.clearUnsaved(field)
	return nil
}

func (t *Table) notify(ctx context.Context) {
	if t.onChange != nil {
		t.onChange(ctx, t.itemType)
	}
}

func (t *Table) find(key string) (int, *LineItem) {
	for i, row := range t.rows {
		if row.Key == key {
			return i, row
		}
	}
	return -1, nil
}

func (t *Table) remove(key string) {
	idx, row := t.find(key)
	if row == nil {
		return
	}
	row.State = RowStateDeleted
	t.rows = append(t.rows[:idx], t.rows[idx+1:]...)
	t.renumber()
}

// renumber keeps SortOrder contiguous from 1 in visual order.
func (t *Table) renumber() {
	for i, row := range t.rows {
		row.SortOrder = i + 1
	}
}

func (t *Table) positions() []Position {
	positions := make([]Position, 0, len(t.rows))
	for _, row := range t.rows {
		if row.State == RowStatePersisted && row.ID > 0 {
			positions = append(positions, Position{ID: row.ID, SortOrder: row.SortOrder})
		}
	}
	return positions
}

func sameRows(a, b []*LineItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
