package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"castellan-hq/portcullis/pkg/ledger"
)

// MemoryStorage implements ledger.Storage using an in-memory slice.
// This implementation is intended for testing only.
type MemoryStorage struct {
	events []*ledger.Event
	byID   map[string]*ledger.Event
	mu     sync.RWMutex
}

// NewMemoryStorage creates a new in-memory ledger storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		byID: make(map[string]*ledger.Event),
	}
}

// Append persists a sealed event.
func (s *MemoryStorage) Append(ctx context.Context, event *ledger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expected := int64(len(s.events)) + 1
	if event.Seq != expected {
		return fmt.Errorf("sequence gap: expected %d, got %d", expected, event.Seq)
	}
	if _, exists := s.byID[event.ID]; exists {
		return fmt.Errorf("event %s already exists", event.ID)
	}

	stored := *event
	s.events = append(s.events, &stored)
	s.byID[stored.ID] = &stored
	return nil
}

// Last returns the most recent event, or ledger.ErrEmpty.
func (s *MemoryStorage) Last(ctx context.Context) (*ledger.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) == 0 {
		return nil, ledger.ErrEmpty
	}
	clone := *s.events[len(s.events)-1]
	return &clone, nil
}

// All returns every event in sequence order.
func (s *MemoryStorage) All(ctx context.Context) ([]*ledger.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*ledger.Event, len(s.events))
	for i, event := range s.events {
		clone := *event
		results[i] = &clone
	}
	return results, nil
}

// Count returns the number of events.
func (s *MemoryStorage) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.events)), nil
}

// CountEntries returns the number of "entry" events for the entity at
// or after the given instant.
func (s *MemoryStorage) CountEntries(ctx context.Context, entityID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, event := range s.events {
		if event.Kind != ledger.KindEntry || event.EntityID != entityID {
			continue
		}
		if event.Timestamp.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

// SetReceipt attaches a notarization receipt to an existing event.
func (s *MemoryStorage) SetReceipt(ctx context.Context, eventID, receipt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.byID[eventID]
	if !ok {
		return ledger.ErrNotFound
	}
	event.Receipt = receipt
	return nil
}

// Tamper overwrites a stored event in place. Only for corruption tests.
func (s *MemoryStorage) Tamper(seq int64, mutate func(*ledger.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range s.events {
		if event.Seq == seq {
			mutate(event)
			return
		}
	}
}

// Close releases resources held by the storage backend.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = nil
	s.byID = make(map[string]*ledger.Event)
	return nil
}
