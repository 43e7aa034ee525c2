// Package storage persists the delivery audit log.
//
// Drivers:
//   - "file": JSON Lines file, no dependencies
//   - "sqlite": pure-Go SQLite (modernc.org/sqlite)
//   - "postgres": PostgreSQL via lib/pq
//
// An empty driver or "none" disables storage (Open returns a nil Store).
package storage
