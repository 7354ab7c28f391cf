package suppliers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
)

// Service exposes supplier tax profiles to the ledger.
type Service struct {
	repo      Repository
	cache     *Cache
	logger    *slog.Logger
	batchWait time.Duration
}

// NewService wires the supplier service. cache may be nil.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Create registers a supplier, or refreshes the one sharing its code, after
// normalising its tax profile. Cached profiles are invalidated afterwards.
func (s *Service) Create(ctx context.Context, supplier Supplier) (Supplier, error) {
	supplier.Code = strings.TrimSpace(supplier.Code)
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Code == "" || supplier.Name == "" {
		return Supplier{}, fmt.Errorf("%w: code and name are required", ErrInvalidSupplier)
	}
	profile, err := normalizeProfile(TaxProfileUpdate{
		TaxCategory:            supplier.TaxCategory,
		QualifiedInvoiceNumber: supplier.QualifiedInvoiceNumber,
	})
	if err != nil {
		return Supplier{}, err
	}
	supplier.TaxCategory = profile.TaxCategory
	supplier.QualifiedInvoiceNumber = profile.QualifiedInvoiceNumber
	created, err := s.repo.Create(ctx, supplier)
	if err != nil {
		return Supplier{}, err
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("supplier cache bump failed", slog.Int64("supplier_id", created.ID), slog.Any("error", err))
	}
	return created, nil
}

// SupplierTaxProfile returns the cached tax profile of one supplier.
func (s *Service) SupplierTaxProfile(ctx context.Context, id int64) (ledger.SupplierTaxProfile, error) {
	if id <= 0 {
		return ledger.SupplierTaxProfile{}, ErrNotFound
	}
	key, err := s.cache.BuildKey(ctx, profileKey(id))
	if err != nil {
		s.logger.Warn("supplier cache unavailable", slog.Any("error", err))
		return s.loadProfile(ctx, id)
	}
	var profile ledger.SupplierTaxProfile
	err = s.cache.FetchJSON(ctx, key, &profile, func(ctx context.Context) (any, error) {
		return s.loadProfile(ctx, id)
	})
	return profile, err
}

// Profiles resolves many suppliers at once, reading the cache first and
// loading the misses in one query. Unknown ids are absent from the result.
func (s *Service) Profiles(ctx context.Context, ids []int64) (map[int64]ledger.SupplierTaxProfile, error) {
	out := make(map[int64]ledger.SupplierTaxProfile, len(ids))
	keys := make(map[int64]string, len(ids))
	var misses []int64
	for _, id := range ids {
		if _, seen := keys[id]; seen {
			continue
		}
		key, err := s.cache.BuildKey(ctx, profileKey(id))
		if err != nil {
			s.logger.Warn("supplier cache unavailable", slog.Any("error", err))
			key = ""
		}
		keys[id] = key
		if key != "" {
			var profile ledger.SupplierTaxProfile
			hit, err := s.cache.Lookup(ctx, key, &profile)
			if err == nil && hit {
				out[id] = profile
				continue
			}
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}
	found, err := s.repo.GetMany(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("load supplier profiles: %w", err)
	}
	for _, supplier := range found {
		profile := supplier.Profile()
		out[supplier.ID] = profile
		if key := keys[supplier.ID]; key != "" {
			if err := s.cache.Store(ctx, key, profile); err != nil {
				s.logger.Warn("cache supplier profile", slog.Int64("supplier_id", supplier.ID), slog.Any("error", err))
			}
		}
	}
	return out, nil
}

// UpdateTaxProfile validates and stores new tax attributes, invalidating cached profiles.
func (s *Service) UpdateTaxProfile(ctx context.Context, id int64, update TaxProfileUpdate) (ledger.SupplierTaxProfile, error) {
	if id <= 0 {
		return ledger.SupplierTaxProfile{}, ErrNotFound
	}
	update, err := normalizeProfile(update)
	if err != nil {
		return ledger.SupplierTaxProfile{}, err
	}
	if err := s.repo.UpdateTaxProfile(ctx, id, update); err != nil {
		return ledger.SupplierTaxProfile{}, err
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Error("bump supplier cache", slog.Int64("supplier_id", id), slog.Any("error", err))
	}
	return ledger.SupplierTaxProfile{
		SupplierID:             id,
		TaxCategory:            update.TaxCategory,
		QualifiedInvoiceNumber: update.QualifiedInvoiceNumber,
	}, nil
}

// SetBatchWait tunes how long resolvers collect lookups before fetching.
func (s *Service) SetBatchWait(wait time.Duration) {
	s.batchWait = wait
}

// NewResolver returns a batching resolver scoped to one aggregation.
func (s *Service) NewResolver() *Loader {
	return NewLoader(s.Profiles, s.batchWait)
}

func (s *Service) loadProfile(ctx context.Context, id int64) (ledger.SupplierTaxProfile, error) {
	supplier, err := s.repo.Get(ctx, id)
	if err != nil {
		return ledger.SupplierTaxProfile{}, err
	}
	return supplier.Profile(), nil
}
