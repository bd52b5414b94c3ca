// Package engine evaluates the active policy set against an entity and a
// request context.
//
// Evaluation is deny-oriented: policies are visited in ascending priority
// order, the scope filter is applied first, and the first policy whose
// condition blocks short-circuits the pass. If no active policy blocks the
// decision is permitted — the engine fails open when unconfigured so an
// empty policy table cannot lock a facility down.
//
// The max-occurrences condition needs historical entry counts. The engine
// does not talk to the ledger directly; callers inject an EntryCounter so
// the evaluation logic itself stays pure and unit-testable with a stub.
package engine
