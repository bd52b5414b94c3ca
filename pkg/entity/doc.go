// Package entity defines the universal subject store for access decisions.
//
// An entity is any typed subject a gate decision can be made about: a
// person, a vehicle, a scheduled visit, a service provider, or an emergency
// unit. The attribute bag is schema-flexible; the store enforces shape, not
// schema. Every attribute snapshot is bound to a content hash, and updates
// chain the superseded hash into PreviousHash, forming a per-entity revision
// chain. Entities are never hard-deleted, only deactivated, so the decision
// history remains replayable.
//
// Storage backends live in the storage subpackage.
package entity
