package suppliers

import (
	"context"
	"time"

	"github.com/graph-gophers/dataloader/v7"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
)

const defaultBatchWait = 2 * time.Millisecond

// BatchFetcher resolves many supplier profiles in one round trip.
type BatchFetcher func(ctx context.Context, ids []int64) (map[int64]ledger.SupplierTaxProfile, error)

// Loader coalesces concurrent per-row lookups into batched fetches.
type Loader struct {
	loader *dataloader.Loader[int64, ledger.SupplierTaxProfile]
}

// NewLoader builds a Loader. Results are memoised for the loader's lifetime,
// so a Loader should be scoped to a single aggregation.
func NewLoader(fetch BatchFetcher, wait time.Duration) *Loader {
	if wait <= 0 {
		wait = defaultBatchWait
	}
	reader := &profileReader{fetch: fetch}
	return &Loader{
		loader: dataloader.NewBatchedLoader(reader.getProfiles, dataloader.WithWait[int64, ledger.SupplierTaxProfile](wait)),
	}
}

// SupplierTaxProfile implements ledger.ProfileResolver.
func (l *Loader) SupplierTaxProfile(ctx context.Context, supplierID int64) (ledger.SupplierTaxProfile, error) {
	return l.loader.Load(ctx, supplierID)()
}

type profileReader struct {
	fetch BatchFetcher
}

func (r *profileReader) getProfiles(ctx context.Context, ids []int64) []*dataloader.Result[ledger.SupplierTaxProfile] {
	found, err := r.fetch(ctx, ids)
	if err != nil {
		return handleError[ledger.SupplierTaxProfile](len(ids), err)
	}
	results := make([]*dataloader.Result[ledger.SupplierTaxProfile], 0, len(ids))
	for _, id := range ids {
		profile, ok := found[id]
		if !ok {
			results = append(results, &dataloader.Result[ledger.SupplierTaxProfile]{Error: ErrNotFound})
			continue
		}
		results = append(results, &dataloader.Result[ledger.SupplierTaxProfile]{Data: profile})
	}
	return results
}

func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}
