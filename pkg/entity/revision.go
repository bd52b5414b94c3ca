package entity

import "time"

// New builds the initial revision of an entity: validates the payload,
// assigns a fresh ID, and computes the initial content hash with an empty
// PreviousHash. Backends persist the result as-is.
func New(typ Type, attributes map[string]any, now time.Time) (*Entity, error) {
	if typ == "" {
		return nil, NewValidationError("type", "must not be empty")
	}
	if attributes == nil {
		return nil, NewValidationError("attributes", "must not be nil")
	}

	id, err := NewID(typ, attributes, now)
	if err != nil {
		return nil, err
	}

	hash, err := ComputeContentHash(typ, attributes, now)
	if err != nil {
		return nil, err
	}

	return &Entity{
		ID:          id,
		Type:        typ,
		Attributes:  cloneAttributes(attributes),
		ContentHash: hash,
		State:       StateActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NextRevision returns a new revision of e with delta shallow-merged onto
// the attribute map (right-hand wins), the content hash recomputed, and the
// old hash shifted into PreviousHash. e is not mutated.
func NextRevision(e *Entity, delta map[string]any, now time.Time) (*Entity, error) {
	if delta == nil {
		return nil, NewValidationError("delta", "must not be nil")
	}

	next := e.Clone()
	for k, v := range delta {
		next.Attributes[k] = v
	}

	hash, err := ComputeContentHash(next.Type, next.Attributes, now)
	if err != nil {
		return nil, err
	}

	next.PreviousHash = e.ContentHash
	next.ContentHash = hash
	next.UpdatedAt = now
	return next, nil
}
