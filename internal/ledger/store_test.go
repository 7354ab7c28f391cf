package ledger

import (
	"context"
	"errors"
	"sync"
)

type updateCall struct {
	itemType ItemType
	id       int64
	field    Field
	value    string
}

type memoryStore struct {
	mu       sync.Mutex
	nextID   int64
	creates  []CreateItemRequest
	updates  []updateCall
	deletes  []int64
	reorders [][]Position

	createErr  error
	updateErr  error
	deleteErr  error
	reorderErr error

	// createGate, when set, blocks CreateItem until it is closed.
	createGate chan struct{}
	// createStarted receives a value once CreateItem is entered.
	createStarted chan struct{}
	// deleteGate and deleteStarted do the same for DeleteItem.
	deleteGate    chan struct{}
	deleteStarted chan struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{nextID: 100}
}

func (s *memoryStore) CreateItem(ctx context.Context, req CreateItemRequest) (int64, error) {
	s.mu.Lock()
	s.creates = append(s.creates, req)
	gate := s.createGate
	started := s.createStarted
	s.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return 0, s.createErr
	}
	s.nextID++
	return s.nextID, nil
}

func (s *memoryStore) UpdateItem(ctx context.Context, itemType ItemType, itemID int64, field Field, value string, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, updateCall{itemType: itemType, id: itemID, field: field, value: value})
	return s.updateErr
}

func (s *memoryStore) DeleteItem(ctx context.Context, itemType ItemType, itemID int64, orderID int64) error {
	s.mu.Lock()
	gate := s.deleteGate
	started := s.deleteStarted
	s.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletes = append(s.deletes, itemID)
	return nil
}

func (s *memoryStore) ReorderItems(ctx context.Context, itemType ItemType, orderID int64, positions []Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reorderErr != nil {
		return s.reorderErr
	}
	s.reorders = append(s.reorders, append([]Position(nil), positions...))
	return nil
}

func (s *memoryStore) createCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.creates)
}

var errNetwork = errors.New("connection reset")
