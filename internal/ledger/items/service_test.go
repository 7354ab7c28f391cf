package items

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
	"github.com/KantanPro/ktp-ledger/internal/shared"
)

const testOrderID = 1

type fixture struct {
	repo      *memoryRepo
	keys      *memoryKeys
	locker    *recordingLocker
	scheduler *recordingScheduler
	service   *Service
}

func newFixture(t *testing.T, profiles stubProfiles) *fixture {
	t.Helper()
	f := &fixture{
		repo:      newMemoryRepo(Order{ID: testOrderID, Title: "看板制作", ClientName: "サンプル商事"}),
		keys:      &memoryKeys{},
		locker:    &recordingLocker{},
		scheduler: &recordingScheduler{},
	}
	f.service = NewService(ServiceParams{
		Repo:      f.repo,
		Keys:      f.keys,
		Locker:    f.locker,
		Scheduler: f.scheduler,
		Resolvers: func() ledger.ProfileResolver { return profiles },
	})
	return f
}

func (f *fixture) create(t *testing.T, itemType ledger.ItemType, name string) int64 {
	t.Helper()
	id, err := f.service.CreateItem(context.Background(), ledger.CreateItemRequest{
		Type: itemType, OrderID: testOrderID, Field: ledger.FieldProductName, Value: name,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) update(t *testing.T, itemType ledger.ItemType, id int64, field ledger.Field, value string) {
	t.Helper()
	require.NoError(t, f.service.UpdateItem(context.Background(), itemType, id, field, value, testOrderID))
}

func sortOrders(t *testing.T, f *fixture, itemType ledger.ItemType) []int64 {
	t.Helper()
	rows, err := f.service.ListItems(context.Background(), testOrderID, itemType)
	require.NoError(t, err)
	ids := make([]int64, len(rows))
	for i, row := range rows {
		require.Equal(t, i+1, row.SortOrder)
		ids[i] = row.ID
	}
	return ids
}

func TestCreateItemAppendsAtEnd(t *testing.T) {
	f := newFixture(t, nil)
	first := f.create(t, ledger.ItemTypeInvoice, "デザイン費")
	second := f.create(t, ledger.ItemTypeInvoice, "出力費")

	require.Equal(t, []int64{first, second}, sortOrders(t, f, ledger.ItemTypeInvoice))
	item := f.repo.item(second)
	require.Equal(t, "出力費", item.ProductName)
	require.True(t, item.Amount.IsZero())
	require.Equal(t, []int64{testOrderID, testOrderID}, f.scheduler.orders)
}

func TestCreateItemIsIdempotentPerClientKey(t *testing.T) {
	f := newFixture(t, nil)
	req := ledger.CreateItemRequest{
		Type: ledger.ItemTypeCost, OrderID: testOrderID, Field: ledger.FieldProductName, Value: "用紙", ClientKey: "row-7",
	}
	first, err := f.service.CreateItem(context.Background(), req)
	require.NoError(t, err)
	retry, err := f.service.CreateItem(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, first, retry)
	require.Len(t, sortOrders(t, f, ledger.ItemTypeCost), 1)
}

func TestCreateItemDropsDuplicateWhenRaceLost(t *testing.T) {
	f := newFixture(t, nil)
	winner := f.create(t, ledger.ItemTypeCost, "インク")
	f.keys.raceWinner = winner

	id, err := f.service.CreateItem(context.Background(), ledger.CreateItemRequest{
		Type: ledger.ItemTypeCost, OrderID: testOrderID, Field: ledger.FieldProductName, Value: "インク", ClientKey: "row-9",
	})
	require.NoError(t, err)
	require.Equal(t, winner, id)
	require.Equal(t, []int64{winner}, sortOrders(t, f, ledger.ItemTypeCost))
}

func TestCreateItemValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.service.CreateItem(ctx, ledger.CreateItemRequest{Type: ledger.ItemTypeInvoice, OrderID: testOrderID, Field: ledger.FieldProductName, Value: "  "})
	require.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.service.CreateItem(ctx, ledger.CreateItemRequest{Type: ledger.ItemTypeInvoice, OrderID: 0, Field: ledger.FieldProductName, Value: "x"})
	require.ErrorIs(t, err, ledger.ErrNoOrder)

	_, err = f.service.CreateItem(ctx, ledger.CreateItemRequest{Type: "memo", OrderID: testOrderID, Field: ledger.FieldProductName, Value: "x"})
	require.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.service.CreateItem(ctx, ledger.CreateItemRequest{Type: ledger.ItemTypeInvoice, OrderID: testOrderID, Field: ledger.FieldAmount, Value: "1"})
	require.ErrorIs(t, err, ledger.ErrUnknownField)

	_, err = f.service.CreateItem(ctx, ledger.CreateItemRequest{Type: ledger.ItemTypeInvoice, OrderID: 42, Field: ledger.FieldProductName, Value: "x"})
	require.ErrorIs(t, err, ErrOrderNotFound)
	require.Empty(t, f.scheduler.orders)
}

func TestUpdateItemRecomputesAmountServerSide(t *testing.T) {
	f := newFixture(t, nil)
	id := f.create(t, ledger.ItemTypeInvoice, "施工費")

	f.update(t, ledger.ItemTypeInvoice, id, ledger.FieldPrice, "１,２００")
	f.update(t, ledger.ItemTypeInvoice, id, ledger.FieldQuantity, "2.5")

	item := f.repo.item(id)
	require.Equal(t, "1200", item.UnitPrice.String())
	require.Equal(t, "3000", item.Amount.String())
	require.Equal(t, []string{"price", "amount", "quantity", "amount"}, f.repo.columns)

	f.update(t, ledger.ItemTypeInvoice, id, ledger.FieldRemarks, "現地調査込み")
	require.Equal(t, "3000", f.repo.item(id).Amount.String())
	require.Equal(t, "remarks", f.repo.columns[len(f.repo.columns)-1])
}

func TestUpdateItemStoresRoundedValuesBehindAmount(t *testing.T) {
	f := newFixture(t, nil)
	id := f.create(t, ledger.ItemTypeInvoice, "ラベル")

	f.update(t, ledger.ItemTypeInvoice, id, ledger.FieldPrice, "0.125")
	f.update(t, ledger.ItemTypeInvoice, id, ledger.FieldQuantity, "8")

	item := f.repo.item(id)
	require.Equal(t, "0.13", item.UnitPrice.String())
	require.Equal(t, "2", item.Amount.String())

	reloaded := item
	reloaded.Recalculate()
	require.True(t, item.Amount.Equal(reloaded.Amount))

	f.update(t, ledger.ItemTypeInvoice, id, ledger.FieldPrice, "1e50000000")
	item = f.repo.item(id)
	require.True(t, item.UnitPrice.IsZero())
	require.True(t, item.Amount.IsZero())
}

func TestUpdateItemCostFields(t *testing.T) {
	f := newFixture(t, nil)
	id := f.create(t, ledger.ItemTypeCost, "アクリル板")

	f.update(t, ledger.ItemTypeCost, id, ledger.FieldTaxRate, "10")
	f.update(t, ledger.ItemTypeCost, id, ledger.FieldSupplierID, "4")
	item := f.repo.item(id)
	require.NotNil(t, item.TaxRate)
	require.Equal(t, "10", item.TaxRate.String())
	require.EqualValues(t, 4, item.SupplierID)

	f.update(t, ledger.ItemTypeCost, id, ledger.FieldTaxRate, "")
	require.Nil(t, f.repo.item(id).TaxRate)
}

func TestUpdateItemRejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.create(t, ledger.ItemTypeInvoice, "デザイン費")

	require.ErrorIs(t, f.service.UpdateItem(ctx, ledger.ItemTypeInvoice, id, ledger.FieldAmount, "9", testOrderID), ledger.ErrReadOnlyField)
	require.ErrorIs(t, f.service.UpdateItem(ctx, ledger.ItemTypeInvoice, id, ledger.FieldSupplierID, "3", testOrderID), ledger.ErrUnknownField)
	require.ErrorIs(t, f.service.UpdateItem(ctx, ledger.ItemTypeInvoice, 0, ledger.FieldPrice, "9", testOrderID), ledger.ErrRowPending)
	require.ErrorIs(t, f.service.UpdateItem(ctx, ledger.ItemTypeInvoice, 999, ledger.FieldPrice, "9", testOrderID), ErrNotFound)
	require.ErrorIs(t, f.service.UpdateItem(ctx, ledger.ItemTypeCost, id, ledger.FieldPrice, "9", testOrderID), ErrNotFound)

	err := f.service.UpdateItem(ctx, ledger.ItemTypeInvoice, id, ledger.FieldTaxRate, "abc", testOrderID)
	require.ErrorIs(t, err, ledger.ErrValidation)
	require.Nil(t, f.repo.item(id).TaxRate)
}

func TestDeleteItemCompactsSortOrder(t *testing.T) {
	f := newFixture(t, nil)
	a := f.create(t, ledger.ItemTypeCost, "A")
	b := f.create(t, ledger.ItemTypeCost, "B")
	c := f.create(t, ledger.ItemTypeCost, "C")

	require.NoError(t, f.service.DeleteItem(context.Background(), ledger.ItemTypeCost, b, testOrderID))
	require.Equal(t, []int64{a, c}, sortOrders(t, f, ledger.ItemTypeCost))
	require.Equal(t, []string{shared.LedgerLockKey(testOrderID, "cost")}, f.locker.keys)

	require.NoError(t, f.service.DeleteItem(context.Background(), ledger.ItemTypeCost, 0, testOrderID))
	require.ErrorIs(t, f.service.DeleteItem(context.Background(), ledger.ItemTypeCost, b, testOrderID), ErrNotFound)
}

func TestReorderItemsAppliesCompleteOrdering(t *testing.T) {
	f := newFixture(t, nil)
	a := f.create(t, ledger.ItemTypeInvoice, "A")
	b := f.create(t, ledger.ItemTypeInvoice, "B")
	c := f.create(t, ledger.ItemTypeInvoice, "C")

	err := f.service.ReorderItems(context.Background(), ledger.ItemTypeInvoice, testOrderID, []ledger.Position{
		{ID: c, SortOrder: 1}, {ID: a, SortOrder: 2}, {ID: b, SortOrder: 3},
	})
	require.NoError(t, err)
	require.Equal(t, []int64{c, a, b}, sortOrders(t, f, ledger.ItemTypeInvoice))
	require.Equal(t, []string{shared.LedgerLockKey(testOrderID, "invoice")}, f.locker.keys)
}

func TestReorderItemsIsAtomic(t *testing.T) {
	f := newFixture(t, nil)
	a := f.create(t, ledger.ItemTypeInvoice, "A")
	b := f.create(t, ledger.ItemTypeInvoice, "B")
	f.repo.failSort = b

	err := f.service.ReorderItems(context.Background(), ledger.ItemTypeInvoice, testOrderID, []ledger.Position{
		{ID: a, SortOrder: 2}, {ID: b, SortOrder: 1},
	})
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, []int64{a, b}, sortOrders(t, f, ledger.ItemTypeInvoice))
}

func TestReorderItemsValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	err := f.service.ReorderItems(ctx, ledger.ItemTypeInvoice, testOrderID, []ledger.Position{{ID: 1, SortOrder: 1}, {ID: 1, SortOrder: 2}})
	require.ErrorIs(t, err, ledger.ErrValidation)
	err = f.service.ReorderItems(ctx, ledger.ItemTypeInvoice, testOrderID, []ledger.Position{{ID: 0, SortOrder: 1}})
	require.ErrorIs(t, err, ledger.ErrValidation)
	require.NoError(t, f.service.ReorderItems(ctx, ledger.ItemTypeInvoice, testOrderID, nil))
	require.Empty(t, f.locker.keys)
}

func TestReorderItemsLockBusy(t *testing.T) {
	f := newFixture(t, nil)
	a := f.create(t, ledger.ItemTypeInvoice, "A")
	f.locker.err = shared.ErrLockBusy

	err := f.service.ReorderItems(context.Background(), ledger.ItemTypeInvoice, testOrderID, []ledger.Position{{ID: a, SortOrder: 1}})
	require.ErrorIs(t, err, shared.ErrLockBusy)
}

func TestOrderTotalsAndSnapshot(t *testing.T) {
	f := newFixture(t, stubProfiles{
		4: {SupplierID: 4, TaxCategory: ledger.TaxExclusive, QualifiedInvoiceNumber: "T1234567890123"},
	})
	ctx := context.Background()

	inv := f.create(t, ledger.ItemTypeInvoice, "デザイン費")
	f.update(t, ledger.ItemTypeInvoice, inv, ledger.FieldPrice, "5000")
	f.update(t, ledger.ItemTypeInvoice, inv, ledger.FieldQuantity, "1")

	cost := f.create(t, ledger.ItemTypeCost, "アクリル板")
	f.update(t, ledger.ItemTypeCost, cost, ledger.FieldPrice, "1000")
	f.update(t, ledger.ItemTypeCost, cost, ledger.FieldQuantity, "2")
	f.update(t, ledger.ItemTypeCost, cost, ledger.FieldTaxRate, "10")
	f.update(t, ledger.ItemTypeCost, cost, ledger.FieldSupplierID, "4")

	totals, err := f.service.OrderTotals(ctx, testOrderID)
	require.NoError(t, err)
	require.Equal(t, "5000", totals.InvoiceTotal.String())
	require.Equal(t, "2000", totals.CostTotal.String())
	require.Equal(t, "200", totals.CostTax.String())
	require.Equal(t, "2000", totals.DeductibleCost.String())
	require.Equal(t, "3000", totals.Profit.String())

	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time { return at }
	snapshot, err := f.service.RefreshTotals(ctx, testOrderID)
	require.NoError(t, err)
	require.Equal(t, at, snapshot.ComputedAt)

	stored, err := f.service.Snapshot(ctx, testOrderID)
	require.NoError(t, err)
	require.True(t, stored.Totals().Equal(totals))
	require.True(t, decimal.NewFromInt(3000).Equal(stored.Profit))
}

func TestOrderTotalsEmptyOrder(t *testing.T) {
	f := newFixture(t, nil)
	totals, err := f.service.OrderTotals(context.Background(), testOrderID)
	require.NoError(t, err)
	require.True(t, totals.Equal(ledger.ZeroTotals()))

	_, err = f.service.OrderTotals(context.Background(), 0)
	require.ErrorIs(t, err, ledger.ErrNoOrder)
}
