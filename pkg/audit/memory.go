package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTrail implements Trail using an in-memory slice.
// This implementation is intended for testing only.
type MemoryTrail struct {
	records []*Record
	mu      sync.RWMutex
}

// NewMemoryTrail creates a new in-memory audit trail.
func NewMemoryTrail() *MemoryTrail {
	return &MemoryTrail{}
}

// Append persists a new audit record.
func (t *MemoryTrail) Append(ctx context.Context, record *Record) error {
	if record.Actor == "" {
		return fmt.Errorf("audit record actor must not be empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stored := *record
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}
	record.ID = stored.ID
	record.Timestamp = stored.Timestamp

	t.records = append(t.records, &stored)
	return nil
}

// List returns records in chronological order, newest last.
func (t *MemoryTrail) List(ctx context.Context, limit int) ([]*Record, error) {
	return t.list(limit, func(r *Record) bool { return true }), nil
}

// ListByEntity returns records whose snapshots concern the entity.
func (t *MemoryTrail) ListByEntity(ctx context.Context, entityID string, limit int) ([]*Record, error) {
	return t.list(limit, func(r *Record) bool { return r.EntityID == entityID }), nil
}

func (t *MemoryTrail) list(limit int, keep func(*Record) bool) []*Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	results := []*Record{}
	for _, r := range t.records {
		if keep(r) {
			clone := *r
			results = append(results, &clone)
		}
	}
	if limit > 0 && len(results) > limit {
		results = results[len(results)-limit:]
	}
	return results
}

// Close releases resources held by the trail.
func (t *MemoryTrail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = nil
	return nil
}
