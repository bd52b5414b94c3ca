// Package storage provides policy store backends.
//
// SQLiteStore is the production backend (modernc.org/sqlite); MemoryStore
// is an in-memory backend intended for testing.
package storage
