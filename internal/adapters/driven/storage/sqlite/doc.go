// Package sqlite provides a unified SQLite-based implementation of driven port interfaces.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO. It implements the DocumentStore and ChatStore through a single connection pool.
//
// # Schema
//
// The schema is managed through versioned migrations in the migrations/ directory.
// Chunk text is indexed by an external-content FTS5 table (chunks_fts) kept in sync
// by triggers; SearchChunks ranks with bm25.
//
// # Data Location
//
// By default, the database is stored at ~/.lectern/data/lectern.db
//
// # Thread Safety
//
// All operations are thread-safe. The store relies on SQLite locking in WAL mode.
package sqlite
