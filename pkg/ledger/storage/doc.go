// Package storage provides ledger storage backends.
//
// SQLiteStorage is the production backend; MemoryStorage is an
// in-memory backend intended for testing.
package storage
