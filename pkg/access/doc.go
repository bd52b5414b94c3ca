// Package access orchestrates gate decisions.
//
// The orchestrator is the single write path into the ledger: it looks
// up the entity, evaluates the active policy set, seals the resulting
// event onto the chain, writes the audit record, and invokes the
// notarization hook. Denials are recorded as rejection events; nothing
// that reaches the ledger is ever silently discarded.
package access
