package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"castellan-hq/portcullis/pkg/policy"
)

// MemoryStore implements policy.Store using an in-memory map.
// This implementation is intended for testing only.
type MemoryStore struct {
	policies map[string]*policy.Policy
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies: make(map[string]*policy.Policy),
	}
}

// Create persists a new policy.
func (s *MemoryStore) Create(ctx context.Context, p *policy.Policy) error {
	if p.ID == "" {
		return fmt.Errorf("policy id must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[p.ID]; exists {
		return fmt.Errorf("policy %s already exists", p.ID)
	}

	stored := *p
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.policies[p.ID] = &stored
	return nil
}

// Get returns the policy with the given id, or policy.ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, id string) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, policy.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

// Update replaces the stored policy with the same ID.
func (s *MemoryStore) Update(ctx context.Context, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.policies[p.ID]
	if !ok {
		return policy.ErrNotFound
	}

	stored := *p
	stored.CreatedAt = current.CreatedAt
	s.policies[p.ID] = &stored
	return nil
}

// SetActive toggles the active flag. Idempotent.
func (s *MemoryStore) SetActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[id]
	if !ok {
		return policy.ErrNotFound
	}
	p.Active = active
	return nil
}

// List returns all policies, active or not.
func (s *MemoryStore) List(ctx context.Context) ([]*policy.Policy, error) {
	return s.list(func(p *policy.Policy) bool { return true }), nil
}

// ListActive returns active policies only.
func (s *MemoryStore) ListActive(ctx context.Context) ([]*policy.Policy, error) {
	return s.list(func(p *policy.Policy) bool { return p.Active }), nil
}

func (s *MemoryStore) list(keep func(*policy.Policy) bool) []*policy.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []*policy.Policy{}
	for _, p := range s.policies {
		if keep(p) {
			clone := *p
			results = append(results, &clone)
		}
	}
	return results
}

// Close releases resources held by the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies = make(map[string]*policy.Policy)
	return nil
}
