// Package ledger implements the append-only access event ledger.
//
// Every recorded event carries a SHA-256 hash over its canonical payload
// and the hash of the preceding event, forming a tamper-evident chain.
// Events are never updated or deleted; the only post-append mutation is
// attaching a notarization receipt, which lives outside the hashed
// payload.
package ledger
