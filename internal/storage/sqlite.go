package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"hyperregistry/internal/api"
	"hyperregistry/pkg/logging"
)

const subsystem = "Storage"

// Backend is the SQLite-backed store. Safe for concurrent use; writes
// serialize on an internal lock, reads do not block.
type Backend struct {
	db   *sql.DB
	path string
	mu   chan struct{} // buffered size 1, acts as the write lock
}

// Open opens (or creates) the store at path and ensures the schema.
func Open(path string) (*Backend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, api.NewStorageError("open", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, api.NewStorageError("open", err)
	}

	b := &Backend{db: db, path: path, mu: make(chan struct{}, 1)}
	if err := b.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Info(subsystem, "Opened registry store at %s", path)
	return b, nil
}

// OpenMemory opens an in-memory store. Test helper.
func OpenMemory() (*Backend, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, api.NewStorageError("open", err)
	}
	// A single connection keeps the in-memory database alive and shared.
	db.SetMaxOpenConns(1)
	b := &Backend{db: db, path: ":memory:", mu: make(chan struct{}, 1)}
	if err := b.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// Close releases the underlying database.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS registry (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			version TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			data BLOB NOT NULL,
			UNIQUE(namespace, name, version)
		)`,
		`CREATE TABLE IF NOT EXISTS registry_facets (
			entry_id TEXT NOT NULL,
			facet_key TEXT NOT NULL,
			facet_value TEXT NOT NULL,
			FOREIGN KEY(entry_id) REFERENCES registry(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS registry_relationships (
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			FOREIGN KEY(source_id) REFERENCES registry(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_namespace ON registry(namespace)`,
		`CREATE INDEX IF NOT EXISTS idx_type ON registry(type)`,
		`CREATE INDEX IF NOT EXISTS idx_status ON registry(status)`,
		`CREATE INDEX IF NOT EXISTS idx_facets_key_value ON registry_facets(facet_key, facet_value)`,
		`CREATE INDEX IF NOT EXISTS idx_facets_entry ON registry_facets(entry_id)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_target ON registry_relationships(target_id)`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.Exec(stmt); err != nil {
			return api.NewStorageError("migrate", err)
		}
	}
	return nil
}

func (b *Backend) lock(ctx context.Context) error {
	select {
	case b.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return api.NewStorageError("lock", ctx.Err())
	}
}

func (b *Backend) unlock() {
	<-b.mu
}

// Save upserts the entry by id and rewrites its facet rows in the same
// transaction. Inserting a different id with an existing
// (namespace, name, version) fails with a ConflictError.
func (b *Backend) Save(ctx context.Context, entry *api.Entry) error {
	if err := b.lock(ctx); err != nil {
		return err
	}
	defer b.unlock()

	blob, err := json.Marshal(entry)
	if err != nil {
		return api.NewStorageError("save", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return api.NewStorageError("save", err)
	}
	defer tx.Rollback()

	// Uniqueness pre-check so the collision surfaces as a typed conflict
	// rather than a raw constraint error.
	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM registry WHERE namespace = ? AND name = ? AND version = ?`,
		entry.Namespace, entry.Name, entry.Version).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return api.NewStorageError("save", err)
	case existingID != entry.ID:
		return api.NewConflictError(entry.ID, fmt.Sprintf(
			"(%s, %s, %s) already registered as %s",
			entry.Namespace, entry.Name, entry.Version, existingID))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO registry (id, namespace, name, type, version, status, created_at, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			namespace = excluded.namespace,
			name = excluded.name,
			type = excluded.type,
			version = excluded.version,
			status = excluded.status,
			updated_at = excluded.updated_at,
			data = excluded.data`,
		entry.ID, entry.Namespace, entry.Name, string(entry.Category), entry.Version,
		string(entry.Status), entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		entry.UpdatedAt.UTC().Format(time.RFC3339Nano), blob)
	if err != nil {
		return api.NewStorageError("save", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM registry_facets WHERE entry_id = ?`, entry.ID); err != nil {
		return api.NewStorageError("save", err)
	}
	for key, values := range entry.Facets() {
		for _, value := range values {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO registry_facets (entry_id, facet_key, facet_value) VALUES (?, ?, ?)`,
				entry.ID, key, value); err != nil {
				return api.NewStorageError("save", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM registry_relationships WHERE source_id = ?`, entry.ID); err != nil {
		return api.NewStorageError("save", err)
	}
	for _, rel := range entry.Relationships {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO registry_relationships (source_id, target_id, kind) VALUES (?, ?, ?)`,
			entry.ID, rel.TargetID, rel.Kind); err != nil {
			return api.NewStorageError("save", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return api.NewStorageError("save", err)
	}
	return nil
}

// InboundRelationship is one edge pointing at an entry, read back from
// the relationship index.
type InboundRelationship struct {
	SourceID string `json:"source_id"`
	Kind     string `json:"kind"`
}

// RelatedTo returns the relationships pointing at the given entry. The
// forward direction lives on the entry itself; this answers the reverse
// question from the index.
func (b *Backend) RelatedTo(ctx context.Context, targetID string) ([]InboundRelationship, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT source_id, kind FROM registry_relationships WHERE target_id = ? ORDER BY rowid`, targetID)
	if err != nil {
		return nil, api.NewStorageError("relationships", err)
	}
	defer rows.Close()

	var out []InboundRelationship
	for rows.Next() {
		var rel InboundRelationship
		if err := rows.Scan(&rel.SourceID, &rel.Kind); err != nil {
			return nil, api.NewStorageError("relationships", err)
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, api.NewStorageError("relationships", err)
	}
	return out, nil
}

// Load returns the entry by id, or a NotFoundError.
func (b *Backend) Load(ctx context.Context, id string) (*api.Entry, error) {
	var blob []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM registry WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, api.NewNotFoundError("entry", id)
	}
	if err != nil {
		return nil, api.NewStorageError("load", err)
	}
	var entry api.Entry
	if err := json.Unmarshal(blob, &entry); err != nil {
		return nil, api.NewStorageError("load", err)
	}
	return &entry, nil
}

// Search returns entries matching the filters in insertion order.
// Equality filters AND together; facet filters AND across keys and OR
// within a key's value list, via EXISTS per key.
func (b *Backend) Search(ctx context.Context, filters api.SearchFilters) ([]*api.Entry, error) {
	where, args := buildWhere(filters)
	query := `SELECT data FROM registry r` + where + ` ORDER BY r.rowid`

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, api.NewStorageError("search", err)
	}
	defer rows.Close()

	var out []*api.Entry
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, api.NewStorageError("search", err)
		}
		var entry api.Entry
		if err := json.Unmarshal(blob, &entry); err != nil {
			return nil, api.NewStorageError("search", err)
		}
		out = append(out, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, api.NewStorageError("search", err)
	}
	return out, nil
}

// Count returns the number of entries matching the filters without
// materializing them.
func (b *Backend) Count(ctx context.Context, filters api.SearchFilters) (int, error) {
	where, args := buildWhere(filters)
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registry r`+where, args...).Scan(&n)
	if err != nil {
		return 0, api.NewStorageError("count", err)
	}
	return n, nil
}

// CountByCategory returns entry counts grouped by category.
func (b *Backend) CountByCategory(ctx context.Context) (map[string]int, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM registry GROUP BY type`)
	if err != nil {
		return nil, api.NewStorageError("count", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, api.NewStorageError("count", err)
		}
		out[category] = n
	}
	if err := rows.Err(); err != nil {
		return nil, api.NewStorageError("count", err)
	}
	return out, nil
}

func buildWhere(filters api.SearchFilters) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if filters.Namespace != "" {
		conds = append(conds, "r.namespace = ?")
		args = append(args, filters.Namespace)
	}
	if filters.Category != "" {
		conds = append(conds, "r.type = ?")
		args = append(args, string(filters.Category))
	}
	if filters.Status != "" {
		conds = append(conds, "r.status = ?")
		args = append(args, string(filters.Status))
	}
	for key, values := range filters.Facets {
		if len(values) == 0 {
			continue
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		conds = append(conds, fmt.Sprintf(
			`EXISTS (SELECT 1 FROM registry_facets f WHERE f.entry_id = r.id AND f.facet_key = ? AND f.facet_value IN (%s))`,
			placeholders))
		args = append(args, key)
		for _, v := range values {
			args = append(args, v)
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Delete removes the entry and cascade-deletes its facet rows.
// Deleting an absent id fails with NotFoundError.
func (b *Backend) Delete(ctx context.Context, id string) error {
	if err := b.lock(ctx); err != nil {
		return err
	}
	defer b.unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return api.NewStorageError("delete", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM registry WHERE id = ?`, id)
	if err != nil {
		return api.NewStorageError("delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return api.NewStorageError("delete", err)
	}
	if affected == 0 {
		return api.NewNotFoundError("entry", id)
	}
	// Belt and braces alongside the FK cascade.
	if _, err := tx.ExecContext(ctx, `DELETE FROM registry_facets WHERE entry_id = ?`, id); err != nil {
		return api.NewStorageError("delete", err)
	}
	if err := tx.Commit(); err != nil {
		return api.NewStorageError("delete", err)
	}
	return nil
}

// snapshot is the JSON export format.
type snapshot struct {
	Version   int                            `json:"version"`
	Timestamp time.Time                      `json:"timestamp"`
	Entries   map[string]*api.Entry          `json:"entries"`
	Facets    map[string]map[string][]string `json:"facets"`
}

// ExportJSON writes an atomic snapshot of all entries to path: the file
// is written to path.tmp, fsynced, then renamed over path.
func (b *Backend) ExportJSON(ctx context.Context, path string) error {
	entries, err := b.Search(ctx, api.SearchFilters{})
	if err != nil {
		return err
	}

	snap := snapshot{
		Version:   1,
		Timestamp: time.Now().UTC(),
		Entries:   make(map[string]*api.Entry, len(entries)),
		Facets:    make(map[string]map[string][]string, len(entries)),
	}
	for _, e := range entries {
		snap.Entries[e.ID] = e
		if facets := e.Facets(); len(facets) > 0 {
			snap.Facets[e.ID] = facets
		}
	}

	blob, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return api.NewStorageError("export", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return api.NewStorageError("export", err)
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(tmp)
		return api.NewStorageError("export", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return api.NewStorageError("export", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return api.NewStorageError("export", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return api.NewStorageError("export", err)
	}

	logging.Info(subsystem, "Exported %d entries to %s", len(entries), path)
	return nil
}
