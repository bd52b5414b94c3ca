// Package audit maintains the operator-visible audit trail.
//
// Audit records are append-only and carry before/after snapshots of the
// state a decision acted on. The trail is a plain history for operators
// and is distinct from the cryptographic ledger.
package audit
