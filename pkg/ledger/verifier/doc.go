// Package verifier runs scheduled integrity checks over the ledger
// chain.
package verifier
