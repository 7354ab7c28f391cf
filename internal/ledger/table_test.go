package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func persistedTable(t *testing.T, store *memoryStore, itemType ItemType, keys ...string) *Table {
	t.Helper()
	table := NewTable(itemType, 1, NewSynchronizer(store, nil, nil), nil)
	items := make([]LineItem, 0, len(keys))
	for i, key := range keys {
		items = append(items, LineItem{
			Key:         key,
			ID:          int64(i + 1),
			ProductName: "item " + key,
			UnitPrice:   decimal.NewFromInt(100),
			Quantity:    decimal.NewFromInt(1),
			SortOrder:   i + 1,
		})
	}
	table.Load(items)
	return table
}

func rowKeys(table *Table) []string {
	rows := table.Rows()
	keys := make([]string, len(rows))
	for i, row := range rows {
		keys[i] = row.Key
	}
	return keys
}

func requireContiguous(t *testing.T, table *Table) {
	t.Helper()
	for i, row := range table.Rows() {
		require.Equal(t, i+1, row.SortOrder)
	}
}

func TestNewTableStartsWithTemplateRow(t *testing.T) {
	table := NewTable(ItemTypeInvoice, 1, NewSynchronizer(newMemoryStore(), nil, nil), nil)
	rows := table.Rows()
	require.Len(t, rows, 1)
	require.Equal(t, RowStateUninitialized, rows[0].State)
	require.Zero(t, rows[0].ID)
	require.Equal(t, 1, rows[0].SortOrder)
}

func TestSetFieldComputesAmountAndPersists(t *testing.T) {
	store := newMemoryStore()
	table := persistedTable(t, store, ItemTypeInvoice, "A")

	require.NoError(t, table.SetField(context.Background(), "A", FieldPrice, "1000"))
	require.NoError(t, table.SetField(context.Background(), "A", FieldQuantity, "2"))

	row, ok := table.Row("A")
	require.True(t, ok)
	require.Equal(t, "2000", row.Amount.String())
	require.Equal(t, []updateCall{
		{itemType: ItemTypeInvoice, id: 1, field: FieldPrice, value: "1000"},
		{itemType: ItemTypeInvoice, id: 1, field: FieldQuantity, value: "2"},
	}, store.updates)
}

func TestSetFieldRejectsAmount(t *testing.T) {
	table := persistedTable(t, newMemoryStore(), ItemTypeCost, "A")
	require.ErrorIs(t, table.SetField(context.Background(), "A", FieldAmount, "5"), ErrReadOnlyField)
}

func TestEmptyNameCreatesNothing(t *testing.T) {
	store := newMemoryStore()
	table := NewTable(ItemTypeCost, 1, NewSynchronizer(store, nil, nil), nil)
	key := table.Rows()[0].Key

	require.NoError(t, table.SetField(context.Background(), key, FieldProductName, ""))

	require.Zero(t, store.createCount())
	row, _ := table.Row(key)
	require.Equal(t, RowStateUninitialized, row.State)
	require.Zero(t, row.ID)
}

func TestNamingTemplateRowCreatesIt(t *testing.T) {
	store := newMemoryStore()
	table := NewTable(ItemTypeCost, 1, NewSynchronizer(store, nil, nil), nil)
	key := table.Rows()[0].Key

	require.NoError(t, table.SetField(context.Background(), key, FieldProductName, "Steel plate"))

	row, _ := table.Row(key)
	require.Equal(t, RowStatePersisted, row.State)
	require.Equal(t, int64(101), row.ID)
	require.Len(t, store.creates, 1)
	require.Equal(t, CreateItemRequest{
		Type:      ItemTypeCost,
		OrderID:   1,
		Field:     FieldProductName,
		Value:     "Steel plate",
		ClientKey: key,
	}, store.creates[0])
	// Last row: no reorder needed.
	require.Empty(t, store.reorders)
}

func TestUninitialisedRowRefusesOtherFields(t *testing.T) {
	store := newMemoryStore()
	table := NewTable(ItemTypeInvoice, 1, NewSynchronizer(store, nil, nil), nil)
	key := table.Rows()[0].Key
	require.ErrorIs(t, table.SetField(context.Background(), key, FieldPrice, "100"), ErrRowPending)
	require.Empty(t, store.updates)
}

func TestCreateFailureLeavesRowUninitialised(t *testing.T) {
	store := newMemoryStore()
	store.createErr = errNetwork
	table := NewTable(ItemTypeInvoice, 1, NewSynchronizer(store, nil, nil), nil)
	key := table.Rows()[0].Key

	err := table.SetField(context.Background(), key, FieldProductName, "Design fee")
	require.ErrorIs(t, err, ErrPersist)

	row, _ := table.Row(key)
	require.Equal(t, RowStateUninitialized, row.State)
	require.Zero(t, row.ID)
	require.Equal(t, "Design fee", row.ProductName)
}

func TestCreateInMiddleAlignsServerOrder(t *testing.T) {
	store := newMemoryStore()
	table := persistedTable(t, store, ItemTypeInvoice, "A", "B")

	added, err := table.AddRowAfter(context.Background(), "A")
	require.NoError(t, err)
	require.Equal(t, []string{"A", added.Key, "B"}, rowKeys(table))

	require.NoError(t, table.SetField(context.Background(), added.Key, FieldProductName, "Inserted"))
	require.Equal(t, [][]Position{{{ID: 1, SortOrder: 1}, {ID: 101, SortOrder: 2}, {ID: 2, SortOrder: 3}}}, store.reorders)
	requireContiguous(t, table)
}

func TestDuplicateNameEditWhilePending(t *testing.T) {
	store := newMemoryStore()
	store.createGate = make(chan struct{})
	store.createStarted = make(chan struct{}, 1)
	table := NewTable(ItemTypeCost, 1, NewSynchronizer(store, nil, nil), nil)
	key := table.Rows()[0].Key

	done := make(chan error, 1)
	go func() {
		done <- table.SetField(context.Background(), key, FieldProductName, "Cable")
	}()
	<-store.createStarted

	require.ErrorIs(t, table.SetField(context.Background(), key, FieldProductName, "Cable"), ErrInProgress)
	require.ErrorIs(t, table.SetField(context.Background(), key, FieldPrice, "10"), ErrRowPending)

	close(store.createGate)
	require.NoError(t, <-done)
	require.Equal(t, 1, store.createCount())
}

func TestDeletePendingRowMakesNoCall(t *testing.T) {
	store := newMemoryStore()
	table := persistedTable(t, store, ItemTypeCost, "A")
	added, err := table.AddRowAfter(context.Background(), "A")
	require.NoError(t, err)

	require.NoError(t, table.DeleteRow(context.Background(), added.Key))
	require.Empty(t, store.deletes)
	require.Equal(t, []string{"A"}, rowKeys(table))
}

func TestDeleteWhileCreatingRemovesOrphan(t *testing.T) {
	store := newMemoryStore()
	store.createGate = make(chan struct{})
	store.createStarted = make(chan struct{}, 1)
	table := persistedTable(t, store, ItemTypeCost, "A")
	added, err := table.AddRowAfter(context.Background(), "A")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- table.SetField(context.Background(), added.Key, FieldProductName, "Orphan")
	}()
	<-store.createStarted

	require.NoError(t, table.DeleteRow(context.Background(), added.Key))
	close(store.createGate)
	require.NoError(t, <-done)

	require.Equal(t, []int64{101}, store.deletes)
	require.Equal(t, []string{"A"}, rowKeys(table))
}

func TestDeleteLastRowIsRefused(t *testing.T) {
	store := newMemoryStore()
	table := persistedTable(t, store, ItemTypeInvoice, "A")
	require.ErrorIs(t, table.DeleteRow(context.Background(), "A"), ErrLastRow)
	require.Equal(t, 1, table.Len())
	require.Empty(t, store.deletes)
}

func TestDeletePersistedRowRenumbers(t *testing.T) {
	store := newMemoryStore()
	table := persistedTable(t, store, ItemTypeInvoice, "A", "B", "C")

	require.NoError(t, table.DeleteRow(context.Background(), "B"))
	require.Equal(t, []int64{2}, store.deletes)
	require.Equal(t, []string{"A", "C"}, rowKeys(table))
	requireContiguous(t, table)
}

func TestDeleteFailureKeepsRow(t *testing.T) {
	store := newMemoryStore()
	store.deleteErr = errNetwork
	table := persistedTable(t, store, ItemTypeInvoice, "A", "B")

	require.ErrorIs(t, table.DeleteRow(context.Background(), "B"), ErrPersist)
	require.Equal(t, []string{"A", "B"}, rowKeys(table))
}

func TestDeleteFailureReleasesReservation(t *testing.T) {
	store := newMemoryStore()
	store.deleteErr = errNetwork
	table := persistedTable(t, store, ItemTypeInvoice, "A", "B")

	require.ErrorIs(t, table.DeleteRow(context.Background(), "B"), ErrPersist)
	store.deleteErr = nil
	require.NoError(t, table.DeleteRow(context.Background(), "A"))
	require.Equal(t, []string{"B"}, rowKeys(table))
}

func TestConcurrentDeletesKeepLastRow(t *testing.T) {
	store := newMemoryStore()
	store.deleteGate = make(chan struct{})
	store.deleteStarted = make(chan struct{}, 1)
	table := persistedTable(t, store, ItemTypeInvoice, "A", "B")

	done := make(chan error, 1)
	go func() { done <- table.DeleteRow(context.Background(), "A") }()
	<-store.deleteStarted

	require.ErrorIs(t, table.DeleteRow(context.Background(), "B"), ErrLastRow)
	require.ErrorIs(t, table.DeleteRow(context.Background(), "A"), ErrInProgress)

	close(store.deleteGate)
	require.NoError(t, <-done)
	require.Equal(t, []int64{1}, store.deletes)
	require.Equal(t, []string{"B"}, rowKeys(table))
	row, ok := table.Row("B")
	require.True(t, ok)
	require.Equal(t, RowStatePersisted, row.State)
}

func TestReorderSendsPersistedPositions(t *testing.T) {
	store := newMemoryStore()
	table := persistedTable(t, store, ItemTypeInvoice, "A", "B", "C")

	require.NoError(t, table.Reorder(context.Background(), []string{"C", "A", "B"}))
	require.Equal(t, [][]Position{{{ID: 3, SortOrder: 1}, {ID: 1, SortOrder: 2}, {ID: 2, SortOrder: 3}}}, store.reorders)
	require.Equal(t, []string{"C", "A", "B"}, rowKeys(table))
	requireContiguous(t, table)
}

func TestReorderSkipsPendingRows(t *testing.T) {
	store := newMemoryStore()
	table := persistedTable(t, store, ItemTypeInvoice, "A", "B")
	added, err := table.AddRowAfter(context.Background(), "B")
	require.NoError(t, err)

	require.NoError(t, table.Reorder(context.Background(), []string{added.Key, "B", "A"}))
	require.Equal(t, [][]Position{{{ID: 2, SortOrder: 2}, {ID: 1, SortOrder: 3}}}, store.reorders)
}

func TestReorderFailureRestoresOrder(t *testing.T) {
	store := newMemoryStore()
	store.reorderErr = errNetwork
	table := persistedTable(t, store, ItemTypeCost, "A", "B", "C")

	require.ErrorIs(t, table.Reorder(context.Background(), []string{"B", "C", "A"}), ErrPersist)
	require.Equal(t, []string{"A", "B", "C"}, rowKeys(table))
	requireContiguous(t, table)
}

func TestReorderRejectsIncompleteKeyList(t *testing.T) {
	table := persistedTable(t, newMemoryStore(), ItemTypeCost, "A", "B")
	require.ErrorIs(t, table.Reorder(context.Background(), []string{"A"}), ErrValidation)
	require.ErrorIs(t, table.Reorder(context.Background(), []string{"A", "Z"}), ErrUnknownRow)
}

func TestMoveRow(t *testing.T) {
	store := newMemoryStore()
	table := persistedTable(t, store, ItemTypeInvoice, "A", "B", "C")

	require.NoError(t, table.MoveRow(context.Background(), "A", 2))
	require.Equal(t, []string{"B", "C", "A"}, rowKeys(table))
	require.Equal(t, []Position{{ID: 2, SortOrder: 1}, {ID: 3, SortOrder: 2}, {ID: 1, SortOrder: 3}}, table.Positions())
}

func TestFieldNameFollowsVisualIndex(t *testing.T) {
	table := persistedTable(t, newMemoryStore(), ItemTypeCost, "A", "B")
	name, err := table.FieldName("B", FieldPrice)
	require.NoError(t, err)
	require.Equal(t, "cost_items[1][price]", name)

	require.NoError(t, table.Reorder(context.Background(), []string{"B", "A"}))
	name, err = table.FieldName("B", FieldPrice)
	require.NoError(t, err)
	require.Equal(t, "cost_items[0][price]", name)
}

func TestFailedSaveMarksUnsavedAndReverts(t *testing.T) {
	store := newMemoryStore()
	table := persistedTable(t, store, ItemTypeInvoice, "A")
	store.updateErr = errNetwork

	err := table.SetField(context.Background(), "A", FieldPrice, "250")
	require.ErrorIs(t, err, ErrPersist)

	row, _ := table.Row("A")
	require.True(t, row.IsUnsaved(FieldPrice))
	require.Equal(t, "250", row.UnitPrice.String())

	require.NoError(t, table.RevertField(context.Background(), "A", FieldPrice))
	row, _ = table.Row("A")
	require.False(t, row.IsUnsaved(FieldPrice))
	require.Equal(t, "100", row.UnitPrice.String())
	require.Equal(t, "100", row.Amount.String())
}

func TestRetryFieldClearsUnsaved(t *testing.T) {
	store := newMemoryStore()
	table := persistedTable(t, store, ItemTypeInvoice, "A")
	store.updateErr = errNetwork
	require.Error(t, table.SetField(context.Background(), "A", FieldRemarks, "rush"))

	store.mu.Lock()
	store.updateErr = nil
	store.mu.Unlock()
	require.NoError(t, table.RetryField(context.Background(), "A", FieldRemarks))

	row, _ := table.Row("A")
	require.False(t, row.IsUnsaved(FieldRemarks))
	require.Equal(t, "rush", store.updates[len(store.updates)-1].value)
}

func TestSubtotal(t *testing.T) {
	table := persistedTable(t, newMemoryStore(), ItemTypeInvoice, "A", "B")
	require.Equal(t, "200", table.Subtotal().String())
}

func TestLedgerWatchReceivesTotals(t *testing.T) {
	store := newMemoryStore()
	agg := NewAggregator(&stubResolver{}, nil, AggregatorConfig{})
	l := NewLedger(1, NewSynchronizer(store, nil, nil), agg, nil)
	l.Load([]LineItem{
		{Key: "i1", ID: 1, Type: ItemTypeInvoice, ProductName: "Fee", UnitPrice: decimal.NewFromInt(5000), Quantity: decimal.NewFromInt(1)},
		{Key: "c1", ID: 2, Type: ItemTypeCost, ProductName: "Part", UnitPrice: decimal.NewFromInt(1000), Quantity: decimal.NewFromInt(1)},
	})

	var seen []Totals
	l.Watch(func(totals Totals, err error) {
		require.NoError(t, err)
		seen = append(seen, totals)
	})

	require.NoError(t, l.Cost.SetField(context.Background(), "c1", FieldQuantity, "3"))
	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	require.Equal(t, "5000", last.InvoiceTotal.String())
	require.Equal(t, "3000", last.CostTotal.String())
	require.Equal(t, "2000", last.Profit.String())
	require.Same(t, l.Cost, l.Table(ItemTypeCost))
	require.Nil(t, l.Table(ItemType("other")))
}
