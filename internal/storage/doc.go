// Package storage provides the task store drivers.
//
// Drivers:
//   - "memory":   process-local map (tests, ephemeral runs)
//   - "sqlite":   SQLite file via modernc.org/sqlite (default)
//   - "postgres": PostgreSQL via pgx connection pool
//   - "redis":    Redis keys + sorted-set index
//
// Every driver implements lifecycle.Store with the same semantics: status
// preconditions are checked and written atomically with the update.
package storage
