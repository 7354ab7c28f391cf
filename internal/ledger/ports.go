package ledger

import "context"

// CreateItemRequest asks the store to persist a new row seeded with one field.
type CreateItemRequest struct {
	Type      ItemType
	OrderID   int64
	Field     Field
	Value     string
	ClientKey string
}

// Store is the persistence collaborator behind the synchronizer.
type Store interface {
	CreateItem(ctx context.Context, req CreateItemRequest) (int64, error)
	UpdateItem(ctx context.Context, itemType ItemType, itemID int64, field Field, value string, orderID int64) error
	DeleteItem(ctx context.Context, itemType ItemType, itemID int64, orderID int64) error
	ReorderItems(ctx context.Context, itemType ItemType, orderID int64, positions []Position) error
}

// ProfileResolver looks up the tax profile of a supplier.
type ProfileResolver interface {
	SupplierTaxProfile(ctx context.Context, supplierID int64) (SupplierTaxProfile, error)
}

// Recorder observes synchronizer outcomes.
type Recorder interface {
	ObserveSync(op string, itemType ItemType, err error)
}
