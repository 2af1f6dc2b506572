// Package storage implements the durable backend for the registry on
// SQLite (modernc.org/sqlite, pure Go). Two relations: the registry table
// holds one row per entry with the full record as a JSON blob plus the
// indexed identity columns, and registry_facets holds the derived
// (entry_id, key, value) facet rows. Facet rows are rewritten in the same
// transaction as their entry, so the index can never drift from the data.
//
// All mutating calls serialize on a backend-level write lock; readers go
// straight to the driver. Every failure surfaces as a typed StorageError
// and leaves the store unchanged.
package storage
