// Package storage provides entity store backends.
//
// SQLiteStore is the production backend (modernc.org/sqlite, WAL mode,
// single-writer connection pool). MemoryStore is an in-memory backend
// intended for testing.
package storage
