package items

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
	"github.com/KantanPro/ktp-ledger/internal/shared"
)

// TotalsScheduler queues a background recomputation of an order's totals.
type TotalsScheduler interface {
	EnqueueTotalsRefresh(ctx context.Context, orderID int64) error
}

// KeyStore records which client row keys already produced an item.
type KeyStore interface {
	Lookup(ctx context.Context, key, module string) (int64, bool, error)
	Remember(ctx context.Context, key, module string, refID int64) error
}

// Locker serialises critical sections across instances.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// ServiceParams groups the collaborators of Service. Only Repo is required.
type ServiceParams struct {
	Repo       Repository
	Keys       KeyStore
	Locker     Locker
	Scheduler  TotalsScheduler
	Aggregator *ledger.Aggregator
	// Resolvers returns a fresh profile resolver per totals computation.
	Resolvers func() ledger.ProfileResolver
	Logger    *slog.Logger
}

// Service is the server side of ledger.Store.
type Service struct {
	repo       Repository
	keys       KeyStore
	locker     Locker
	scheduler  TotalsScheduler
	aggregator *ledger.Aggregator
	resolvers  func() ledger.ProfileResolver
	logger     *slog.Logger
	now        func() time.Time
}

var _ ledger.Store = (*Service)(nil)

// NewService wires the service.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	aggregator := p.Aggregator
	if aggregator == nil {
		aggregator = ledger.NewAggregator(nil, logger, ledger.AggregatorConfig{})
	}
	return &Service{
		repo:       p.Repo,
		keys:       p.Keys,
		locker:     p.Locker,
		scheduler:  p.Scheduler,
		aggregator: aggregator,
		resolvers:  p.Resolvers,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateItem appends a new row seeded with one field. Retries carrying the
// same client key return the id created by the first attempt.
func (s *Service) CreateItem(ctx context.Context, req ledger.CreateItemRequest) (int64, error) {
	if err := checkContext(req.Type, req.OrderID); err != nil {
		return 0, err
	}
	if _, ok := columns[req.Field]; !ok {
		return 0, fmt.Errorf("%w: %s", ledger.ErrUnknownField, req.Field)
	}
	if req.Field == ledger.FieldProductName && strings.TrimSpace(req.Value) == "" {
		return 0, fmt.Errorf("%w: product name required", ledger.ErrValidation)
	}
	if s.keys != nil && req.ClientKey != "" {
		id, found, err := s.keys.Lookup(ctx, req.ClientKey, idempotencyModule)
		if err != nil {
			return 0, fmt.Errorf("lookup client key: %w", err)
		}
		if found {
			return id, nil
		}
	}

	item := ledger.LineItem{
		OrderID:   req.OrderID,
		Type:      req.Type,
		UnitPrice: decimal.Zero,
		Quantity:  decimal.Zero,
		Amount:    decimal.Zero,
	}
	if err := ledger.ApplyField(&item, req.Field, req.Value); err != nil {
		return 0, err
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetOrder(ctx, req.OrderID); err != nil {
			return err
		}
		created, err := repo.Insert(ctx, item)
		if err != nil {
			return err
		}
		id = created
		return nil
	})
	if err != nil {
		return 0, err
	}

	if s.keys != nil && req.ClientKey != "" {
		if err := s.keys.Remember(ctx, req.ClientKey, idempotencyModule, id); err != nil {
			if !errors.Is(err, shared.ErrIdempotencyConflict) {
				s.logger.Warn("remember client key", slog.String("client_key", req.ClientKey), slog.Any("error", err))
			} else if winner, found, lookupErr := s.keys.Lookup(ctx, req.ClientKey, idempotencyModule); lookupErr == nil && found && winner != id {
				// A concurrent retry won the race; drop our duplicate.
				if delErr := s.repo.Delete(ctx, req.Type, req.OrderID, id); delErr != nil {
					s.logger.Warn("drop duplicate line item", slog.Int64("item_id", id), slog.Any("error", delErr))
				}
				id = winner
			}
		}
	}
	s.scheduleTotals(ctx, req.OrderID)
	return id, nil
}

// UpdateItem writes one field and recomputes the amount in the same transaction.
func (s *Service) UpdateItem(ctx context.Context, itemType ledger.ItemType, itemID int64, field ledger.Field, value string, orderID int64) error {
	if err := checkContext(itemType, orderID); err != nil {
		return err
	}
	if itemID <= 0 {
		return ledger.ErrRowPending
	}
	column, ok := columns[field]
	if !ok {
		if field == ledger.FieldAmount {
			return ledger.ErrReadOnlyField
		}
		return fmt.Errorf("%w: %s", ledger.ErrUnknownField, field)
	}
	if err := ledger.CheckEditable(itemType, field); err != nil {
		return err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		item, err := repo.GetForUpdate(ctx, itemType, orderID, itemID)
		if err != nil {
			return err
		}
		if err := ledger.ApplyField(&item, field, value); err != nil {
			return err
		}
		if err := repo.UpdateColumn(ctx, itemType, orderID, itemID, column, columnValue(&item, field)); err != nil {
			return err
		}
		if field.AffectsAmount() {
			return repo.UpdateAmount(ctx, itemType, orderID, itemID, item.Amount)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.scheduleTotals(ctx, orderID)
	return nil
}

// DeleteItem removes a row and closes the gap in sort order.
func (s *Service) DeleteItem(ctx context.Context, itemType ledger.ItemType, itemID int64, orderID int64) error {
	if err := checkContext(itemType, orderID); err != nil {
		return err
	}
	if itemID <= 0 {
		return nil
	}
	err := s.withTableLock(ctx, itemType, orderID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			if err := repo.Delete(ctx, itemType, orderID, itemID); err != nil {
				return err
			}
			return repo.CompactSortOrder(ctx, itemType, orderID)
		})
	})
	if err != nil {
		return err
	}
	s.scheduleTotals(ctx, orderID)
	return nil
}

// ReorderItems applies a complete ordering atomically.
func (s *Service) ReorderItems(ctx context.Context, itemType ledger.ItemType, orderID int64, positions []ledger.Position) error {
	if err := checkContext(itemType, orderID); err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(positions))
	for _, p := range positions {
		if p.ID <= 0 || p.SortOrder <= 0 {
			return fmt.Errorf("%w: invalid position %+v", ledger.ErrValidation, p)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: item %d listed twice", ledger.ErrValidation, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return s.withTableLock(ctx, itemType, orderID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			for _, p := range positions {
				if err := repo.SetSortOrder(ctx, itemType, orderID, p.ID, p.SortOrder); err != nil {
					return fmt.Errorf("item %d: %w", p.ID, err)
				}
			}
			return repo.CompactSortOrder(ctx, itemType, orderID)
		})
	})
}

// ListItems returns the rows of one table, or both when itemType is empty.
func (s *Service) ListItems(ctx context.Context, orderID int64, itemType ledger.ItemType) ([]ledger.LineItem, error) {
	if orderID <= 0 {
		return nil, ledger.ErrNoOrder
	}
	if itemType != "" && !itemType.Valid() {
		return nil, fmt.Errorf("%w: item type %q", ledger.ErrValidation, itemType)
	}
	return s.repo.List(ctx, orderID, itemType)
}

// OrderTotals computes the live totals of an order.
func (s *Service) OrderTotals(ctx context.Context, orderID int64) (ledger.Totals, error) {
	rows, err := s.ListItems(ctx, orderID, "")
	if err != nil {
		return ledger.Totals{}, err
	}
	var invoice, cost []ledger.LineItem
	for _, row := range rows {
		if row.Type == ledger.ItemTypeCost {
			cost = append(cost, row)
		} else {
			invoice = append(invoice, row)
		}
	}
	aggregator := s.aggregator
	if s.resolvers != nil {
		aggregator = aggregator.WithResolver(s.resolvers())
	}
	return aggregator.ComputeTotals(ctx, invoice, cost)
}

// RefreshTotals recomputes and stores the profit snapshot of an order.
func (s *Service) RefreshTotals(ctx context.Context, orderID int64) (TotalsSnapshot, error) {
	totals, err := s.OrderTotals(ctx, orderID)
	if err != nil {
		return TotalsSnapshot{}, err
	}
	snapshot := NewSnapshot(orderID, totals, s.now())
	if err := s.repo.UpsertSnapshot(ctx, snapshot); err != nil {
		return TotalsSnapshot{}, err
	}
	return snapshot, nil
}

// Snapshot returns the last stored totals of an order.
func (s *Service) Snapshot(ctx context.Context, orderID int64) (TotalsSnapshot, error) {
	return s.repo.Snapshot(ctx, orderID)
}

// Order returns the order header.
func (s *Service) Order(ctx context.Context, orderID int64) (Order, error) {
	if orderID <= 0 {
		return Order{}, ledger.ErrNoOrder
	}
	return s.repo.GetOrder(ctx, orderID)
}

func (s *Service) withTableLock(ctx context.Context, itemType ledger.ItemType, orderID int64, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, shared.LedgerLockKey(orderID, string(itemType)), fn)
}

func (s *Service) scheduleTotals(ctx context.Context, orderID int64) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.EnqueueTotalsRefresh(ctx, orderID); err != nil {
		s.logger.Warn("enqueue totals refresh", slog.Int64("order_id", orderID), slog.Any("error", err))
	}
}

func checkContext(itemType ledger.ItemType, orderID int64) error {
	if orderID <= 0 {
		return ledger.ErrNoOrder
	}
	if !itemType.Valid() {
		return fmt.Errorf("%w: item type %q", ledger.ErrValidation, itemType)
	}
	return nil
}

// columnValue renders the typed database value of a field.
func columnValue(item *ledger.LineItem, field ledger.Field) any {
	switch field {
	case ledger.FieldPrice:
		return item.UnitPrice
	case ledger.FieldQuantity:
		return item.Quantity
	case ledger.FieldTaxRate:
		return nullDecimal(item.TaxRate)
	case ledger.FieldSupplierID:
		return nullSupplier(item.SupplierID)
	default:
		return ledger.FieldValue(item, field)
	}
}
