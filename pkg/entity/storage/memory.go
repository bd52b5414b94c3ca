package storage

import (
	"context"
	"sync"
	"time"

	"castellan-hq/portcullis/pkg/entity"
)

// MemoryStore implements entity.Store using an in-memory map.
// This implementation is intended for testing only.
type MemoryStore struct {
	entities map[string]*entity.Entity
	mu       sync.RWMutex

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewMemoryStore creates a new in-memory entity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]*entity.Entity),
		now:      time.Now,
	}
}

// Create persists a new entity built from the type and attribute bag.
func (s *MemoryStore) Create(ctx context.Context, typ entity.Type, attributes map[string]any) (*entity.Entity, error) {
	e, err := entity.New(typ, attributes, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities[e.ID] = e
	return e.Clone(), nil
}

// Get returns the entity with the given id, or entity.ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, id string) (*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return e.Clone(), nil
}

// Update shallow-merges delta onto the current attribute map after checking
// the expected content hash.
func (s *MemoryStore) Update(ctx context.Context, id string, delta map[string]any, expectedHash string) (*entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entities[id]
	if !ok {
		return nil, entity.ErrNotFound
	}

	if current.ContentHash != expectedHash {
		return nil, &entity.ConflictError{
			EntityID:     id,
			ExpectedHash: expectedHash,
			CurrentHash:  current.ContentHash,
		}
	}

	next, err := entity.NextRevision(current, delta, s.now())
	if err != nil {
		return nil, err
	}

	s.entities[id] = next
	return next.Clone(), nil
}

// Deactivate marks the entity inactive. Idempotent.
func (s *MemoryStore) Deactivate(ctx context.Context, id string) error {
	return s.setState(id, entity.StateInactive)
}

// Reactivate marks the entity active. Idempotent.
func (s *MemoryStore) Reactivate(ctx context.Context, id string) error {
	return s.setState(id, entity.StateActive)
}

// setState transitions the lifecycle state.
func (s *MemoryStore) setState(id string, state entity.LifecycleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return entity.ErrNotFound
	}
	e.State = state
	return nil
}

// List returns all entities, optionally filtered by type.
func (s *MemoryStore) List(ctx context.Context, typ entity.Type) ([]*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []*entity.Entity{}
	for _, e := range s.entities {
		if typ != "" && e.Type != typ {
			continue
		}
		results = append(results, e.Clone())
	}
	return results, nil
}

// Close releases resources held by the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities = make(map[string]*entity.Entity)
	return nil
}

// Size returns the number of entities in the store (for testing).
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entities)
}
