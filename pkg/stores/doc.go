// Package stores provides persistence layer implementations for OpenLander.
// It includes SQLite-based storage with WAL mode, connection pooling,
// and comprehensive CRUD operations for runs, attempts, fixes, audit
// entries, and the region capability cache.
package stores
