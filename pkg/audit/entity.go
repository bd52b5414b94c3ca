package audit

import (
	"context"
	"log/slog"

	"castellan-hq/portcullis/pkg/entity"
)

// EntityStore wraps an entity store and records every mutation into the
// trail. Reads pass through untouched. Trail failures are logged and do
// not fail the underlying store operation.
type EntityStore struct {
	store  entity.Store
	trail  Trail
	actor  string
	logger *slog.Logger
}

// NewEntityStore creates an audit-recorded entity store. The actor is
// stamped onto every record this wrapper produces.
func NewEntityStore(store entity.Store, trail Trail, actor string, logger *slog.Logger) *EntityStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityStore{
		store:  store,
		trail:  trail,
		actor:  actor,
		logger: logger.With("component", "audit.entity_store"),
	}
}

// Create persists a new entity and records an entity_created entry.
func (s *EntityStore) Create(ctx context.Context, typ entity.Type, attributes map[string]any) (*entity.Entity, error) {
	ent, err := s.store.Create(ctx, typ, attributes)
	if err != nil {
		return nil, err
	}
	s.record(ctx, ent.ID, ActionEntityCreated, nil, ent)
	return ent, nil
}

// Get returns the entity with the given id.
func (s *EntityStore) Get(ctx context.Context, id string) (*entity.Entity, error) {
	return s.store.Get(ctx, id)
}

// Update applies the delta and records an entity_updated entry with
// before and after snapshots.
func (s *EntityStore) Update(ctx context.Context, id string, delta map[string]any, expectedHash string) (*entity.Entity, error) {
	old, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Update(ctx, id, delta, expectedHash)
	if err != nil {
		return nil, err
	}
	s.record(ctx, id, ActionEntityUpdated, old, updated)
	return updated, nil
}

// Deactivate marks the entity inactive and records a lifecycle entry.
func (s *EntityStore) Deactivate(ctx context.Context, id string) error {
	return s.lifecycle(ctx, id, s.store.Deactivate)
}

// Reactivate marks the entity active and records a lifecycle entry.
func (s *EntityStore) Reactivate(ctx context.Context, id string) error {
	return s.lifecycle(ctx, id, s.store.Reactivate)
}

// List returns all entities, optionally filtered by type.
func (s *EntityStore) List(ctx context.Context, typ entity.Type) ([]*entity.Entity, error) {
	return s.store.List(ctx, typ)
}

// Close releases the underlying store. The trail is owned by the caller
// and stays open.
func (s *EntityStore) Close() error {
	return s.store.Close()
}

func (s *EntityStore) lifecycle(ctx context.Context, id string, op func(context.Context, string) error) error {
	old, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := op(ctx, id); err != nil {
		return err
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	s.record(ctx, id, ActionEntityLifecycle, old, current)
	return nil
}

// record writes one audit entry. Snapshot and append failures are
// logged; the mutation that triggered them already happened.
func (s *EntityStore) record(ctx context.Context, entityID string, action Action, old, current any) {
	oldValue, err := Snapshot(old)
	if err != nil {
		s.logger.Error("failed to snapshot entity", "entity_id", entityID, "error", err)
		return
	}
	newValue, err := Snapshot(current)
	if err != nil {
		s.logger.Error("failed to snapshot entity", "entity_id", entityID, "error", err)
		return
	}

	rec := &Record{
		EntityID: entityID,
		Actor:    s.actor,
		Action:   action,
		OldValue: oldValue,
		NewValue: newValue,
	}
	if err := s.trail.Append(ctx, rec); err != nil {
		s.logger.Error("failed to write audit record",
			"entity_id", entityID,
			"action", action,
			"error", err,
		)
	}
}
