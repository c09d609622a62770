package registrystore

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/canon"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/registry"
)

// SQLiteStore implements registry.Store backed by a SQLite database file,
// for deployments that want the tool table to survive process restarts
// without the operational weight of a standalone server. It reuses the
// same on-disk home as the proxy's state.json (one data directory), unlike
// the session/audit stores which stay in memory for OSS.
type SQLiteStore struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS registered_tools (
	name           TEXT PRIMARY KEY,
	canonical_hash TEXT NOT NULL,
	stable_hash    TEXT NOT NULL,
	registered_at  TEXT NOT NULL,
	description    TEXT NOT NULL
);`

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures the registered_tools table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite registry store: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create registered_tools table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Register inserts a new record. Returns registry.ErrAlreadyRegistered if
// the name already exists.
func (s *SQLiteStore) Register(t registry.RegisteredTool) error {
	if _, ok := s.Lookup(t.Name); ok {
		return registry.ErrAlreadyRegistered
	}
	_, err := s.db.Exec(
		`INSERT INTO registered_tools (name, canonical_hash, stable_hash, registered_at, description) VALUES (?, ?, ?, ?, ?)`,
		t.Name, t.CanonicalHash.String(), t.StableHash.String(), t.RegisteredAt.UTC().Format(time.RFC3339Nano), t.Description,
	)
	if err != nil {
		return fmt.Errorf("insert registered tool: %w", err)
	}
	return nil
}

// Update replaces an existing record. Returns registry.ErrNotFound if the
// name does not exist.
func (s *SQLiteStore) Update(t registry.RegisteredTool) error {
	res, err := s.db.Exec(
		`UPDATE registered_tools SET canonical_hash = ?, stable_hash = ?, registered_at = ?, description = ? WHERE name = ?`,
		t.CanonicalHash.String(), t.StableHash.String(), t.RegisteredAt.UTC().Format(time.RFC3339Nano), t.Description, t.Name,
	)
	if err != nil {
		return fmt.Errorf("update registered tool: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update registered tool: %w", err)
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// Remove deletes a record. Returns registry.ErrNotFound if the name does
// not exist.
func (s *SQLiteStore) Remove(name string) error {
	res, err := s.db.Exec(`DELETE FROM registered_tools WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete registered tool: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete registered tool: %w", err)
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// Lookup returns the record for name, or ok=false if absent. Row-parsing
// errors are treated as "not found" rather than surfaced, since Store's
// Lookup contract has no error return; a corrupt row is indistinguishable
// from an absent one at this layer.
func (s *SQLiteStore) Lookup(name string) (registry.RegisteredTool, bool) {
	row := s.db.QueryRow(
		`SELECT name, canonical_hash, stable_hash, registered_at, description FROM registered_tools WHERE name = ?`,
		name,
	)
	t, err := scanTool(row)
	if err != nil {
		return registry.RegisteredTool{}, false
	}
	return t, true
}

// All returns every registered record, in no particular order.
func (s *SQLiteStore) All() []registry.RegisteredTool {
	rows, err := s.db.Query(`SELECT name, canonical_hash, stable_hash, registered_at, description FROM registered_tools`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []registry.RegisteredTool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTool(row rowScanner) (registry.RegisteredTool, error) {
	var name, canonicalHex, stableHex, registeredAt, description string
	if err := row.Scan(&name, &canonicalHex, &stableHex, &registeredAt, &description); err != nil {
		return registry.RegisteredTool{}, err
	}

	canonicalHash, err := hashFromHex(canonicalHex)
	if err != nil {
		return registry.RegisteredTool{}, err
	}
	stableHash, err := hashFromHex(stableHex)
	if err != nil {
		return registry.RegisteredTool{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, registeredAt)
	if err != nil {
		return registry.RegisteredTool{}, err
	}

	return registry.RegisteredTool{
		Name:          name,
		CanonicalHash: canonicalHash,
		StableHash:    stableHash,
		RegisteredAt:  ts,
		Description:   description,
	}, nil
}

func hashFromHex(s string) (canon.Hash, error) {
	var h canon.Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("registrystore: malformed hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("registrystore: malformed hash length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Compile-time interface verification.
var _ registry.Store = (*SQLiteStore)(nil)
