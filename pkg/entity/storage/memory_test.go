package storage

import (
	"context"
	"errors"
	"testing"

	"castellan-hq/portcullis/pkg/entity"
)

// TestMemoryStore_CreateAndGet tests creating and reading an entity.
func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, entity.TypePerson, map[string]any{"name": "Rita"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if created.ID == "" || created.ContentHash == "" {
		t.Fatal("Create() returned entity without id or content hash")
	}
	if created.State != entity.StateActive {
		t.Errorf("expected state active, got %s", created.State)
	}

	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.ContentHash != created.ContentHash {
		t.Errorf("Get() hash = %s, want %s", got.ContentHash, created.ContentHash)
	}
}

// TestMemoryStore_CreateValidation tests shape validation of the payload.
func TestMemoryStore_CreateValidation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Create(ctx, "", map[string]any{}); err == nil {
		t.Error("expected validation error for empty type")
	}
	if _, err := store.Create(ctx, entity.TypePerson, nil); err == nil {
		t.Error("expected validation error for nil attributes")
	}
}

// TestMemoryStore_GetNotFound tests the not-found path.
func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestMemoryStore_UpdateConflict tests the optimistic-concurrency check.
func TestMemoryStore_UpdateConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, entity.TypeVehicle, map[string]any{"plate": "AAA-0001"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	// First update with the correct expected hash succeeds.
	updated, err := store.Update(ctx, created.ID, map[string]any{"plate": "AAA-0002"}, created.ContentHash)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if updated.PreviousHash != created.ContentHash {
		t.Errorf("PreviousHash = %s, want %s", updated.PreviousHash, created.ContentHash)
	}

	// Second update with the stale hash must fail with a ConflictError.
	_, err = store.Update(ctx, created.ID, map[string]any{"plate": "AAA-0003"}, created.ContentHash)
	var conflict *entity.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.CurrentHash != updated.ContentHash {
		t.Errorf("conflict current hash = %s, want %s", conflict.CurrentHash, updated.ContentHash)
	}
}

// TestMemoryStore_DeactivateReactivate tests lifecycle transitions are
// idempotent and never delete.
func TestMemoryStore_DeactivateReactivate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, entity.TypeVisit, map[string]any{"guest": "Leo"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.Deactivate(ctx, created.ID); err != nil {
			t.Fatalf("Deactivate() failed on attempt %d: %v", i+1, err)
		}
	}

	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.State != entity.StateInactive {
		t.Errorf("expected inactive, got %s", got.State)
	}

	if err := store.Reactivate(ctx, created.ID); err != nil {
		t.Fatalf("Reactivate() failed: %v", err)
	}

	got, err = store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.State != entity.StateActive {
		t.Errorf("expected active, got %s", got.State)
	}

	if store.Size() != 1 {
		t.Errorf("expected 1 entity after lifecycle transitions, got %d", store.Size())
	}
}

// TestMemoryStore_ListByType tests type filtering.
func TestMemoryStore_ListByType(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Create(ctx, entity.TypePerson, map[string]any{"name": "a"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := store.Create(ctx, entity.TypeVehicle, map[string]any{"plate": "b"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	vehicles, err := store.List(ctx, entity.TypeVehicle)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(vehicles) != 1 {
		t.Errorf("expected 1 vehicle, got %d", len(vehicles))
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 entities, got %d", len(all))
	}
}
