// Package policy defines declarative access rules and their condition
// vocabulary.
//
// A policy is a named, prioritized, toggleable rule scoped to all entities
// or to one entity type. Its condition is a small tagged union rather than a
// free-form map, so unknown kinds and missing sub-fields are detected up
// front and skipped without taking down an evaluation pass.
//
// Evaluation lives in the engine subpackage, persistence in storage, and
// the active-set cache plus file loading in source.
package policy
