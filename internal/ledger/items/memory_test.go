package items

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
	"github.com/KantanPro/ktp-ledger/internal/shared"
)

// memoryRepo is an in-memory Repository. WithTx snapshots state and restores it when fn fails.
type memoryRepo struct {
	mu        sync.Mutex
	orders    map[int64]Order
	items     map[int64]ledger.LineItem
	snapshots map[int64]TotalsSnapshot
	nextID    int64
	failSort  int64
	columns   []string
}

func newMemoryRepo(orders ...Order) *memoryRepo {
	repo := &memoryRepo{
		orders:    make(map[int64]Order),
		items:     make(map[int64]ledger.LineItem),
		snapshots: make(map[int64]TotalsSnapshot),
	}
	for _, o := range orders {
		repo.orders[o.ID] = o
	}
	return repo
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	m.mu.Lock()
	saved := make(map[int64]ledger.LineItem, len(m.items))
	for k, v := range m.items {
		saved[k] = v
	}
	m.mu.Unlock()
	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.items = saved
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memoryRepo) GetOrder(ctx context.Context, orderID int64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (m *memoryRepo) List(ctx context.Context, orderID int64, itemType ledger.ItemType) ([]ledger.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.LineItem
	for _, item := range m.items {
		if item.OrderID != orderID || (itemType != "" && item.Type != itemType) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type > out[j].Type
		}
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryRepo) GetForUpdate(ctx context.Context, itemType ledger.ItemType, orderID, id int64) (ledger.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.OrderID != orderID || item.Type != itemType {
		return ledger.LineItem{}, ErrNotFound
	}
	return item, nil
}

func (m *memoryRepo) Insert(ctx context.Context, item ledger.LineItem) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	maxSort := 0
	for _, existing := range m.items {
		if existing.OrderID == item.OrderID && existing.Type == item.Type && existing.SortOrder > maxSort {
			maxSort = existing.SortOrder
		}
	}
	m.nextID++
	item.ID = m.nextID
	item.SortOrder = maxSort + 1
	item.State = ledger.RowStatePersisted
	m.items[item.ID] = item
	return item.ID, nil
}

func (m *memoryRepo) UpdateColumn(ctx context.Context, itemType ledger.ItemType, orderID, id int64, column string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.OrderID != orderID || item.Type != itemType {
		return ErrNotFound
	}
	m.columns = append(m.columns, column)
	switch column {
	case "product_name":
		item.ProductName = value.(string)
	case "price":
		item.UnitPrice = value.(decimal.Decimal)
	case "quantity":
		item.Quantity = value.(decimal.Decimal)
	case "unit":
		item.Unit = value.(string)
	case "tax_rate":
		rate := value.(decimal.NullDecimal)
		if rate.Valid {
			item.TaxRate = &rate.Decimal
		} else {
			item.TaxRate = nil
		}
	case "supplier_id":
		if id := value.(*int64); id != nil {
			item.SupplierID = *id
		} else {
			item.SupplierID = 0
		}
	case "purchase_ref":
		item.PurchaseRef = value.(string)
	case "remarks":
		item.Remarks = value.(string)
	case "amount":
		item.Amount = value.(decimal.Decimal)
	}
	m.items[id] = item
	return nil
}

func (m *memoryRepo) UpdateAmount(ctx context.Context, itemType ledger.ItemType, orderID, id int64, amount decimal.Decimal) error {
	return m.UpdateColumn(ctx, itemType, orderID, id, "amount", amount)
}

func (m *memoryRepo) Delete(ctx context.Context, itemType ledger.ItemType, orderID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.OrderID != orderID || item.Type != itemType {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memoryRepo) SetSortOrder(ctx context.Context, itemType ledger.ItemType, orderID, id int64, sortOrder int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.OrderID != orderID || item.Type != itemType || id == m.failSort {
		return ErrNotFound
	}
	item.SortOrder = sortOrder
	m.items[id] = item
	return nil
}

func (m *memoryRepo) CompactSortOrder(ctx context.Context, itemType ledger.ItemType, orderID int64) error {
	rows, _ := m.List(ctx, orderID, itemType)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, row := range rows {
		row.SortOrder = i + 1
		m.items[row.ID] = row
	}
	return nil
}

func (m *memoryRepo) UpsertSnapshot(ctx context.Context, snapshot TotalsSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.OrderID] = snapshot
	return nil
}

func (m *memoryRepo) Snapshot(ctx context.Context, orderID int64) (TotalsSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[orderID]
	if !ok {
		return TotalsSnapshot{}, ErrNotFound
	}
	return s, nil
}

func (m *memoryRepo) item(id int64) ledger.LineItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]int64
	// raceWinner simulates a concurrent retry recording the key first.
	raceWinner int64
}

func (k *memoryKeys) Lookup(ctx context.Context, key, module string) (int64, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, ok := k.keys[module+"|"+key]
	return id, ok, nil
}

func (k *memoryKeys) Remember(ctx context.Context, key, module string, refID int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keys == nil {
		k.keys = make(map[string]int64)
	}
	if k.raceWinner != 0 {
		k.keys[module+"|"+key] = k.raceWinner
		return shared.ErrIdempotencyConflict
	}
	if _, exists := k.keys[module+"|"+key]; exists {
		return shared.ErrIdempotencyConflict
	}
	k.keys[module+"|"+key] = refID
	return nil
}

type recordingLocker struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (l *recordingLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	err := l.err
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx)
}

type recordingScheduler struct {
	mu     sync.Mutex
	orders []int64
}

func (s *recordingScheduler) EnqueueTotalsRefresh(ctx context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, orderID)
	return nil
}

type stubProfiles map[int64]ledger.SupplierTaxProfile

func (p stubProfiles) SupplierTaxProfile(ctx context.Context, id int64) (ledger.SupplierTaxProfile, error) {
	profile, ok := p[id]
	if !ok {
		return ledger.SupplierTaxProfile{}, ErrNotFound
	}
	return profile, nil
}
