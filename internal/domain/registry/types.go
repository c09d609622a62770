// Package registry implements the Registry Guard: a content-addressed
// store of approved tool schemas with cryptographic drift detection.
package registry

import (
	"errors"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/canon"
)

// ErrAlreadyRegistered is returned by Register when a tool name already
// has a registered schema.
var ErrAlreadyRegistered = errors.New("registry: tool already registered")

// ErrNotFound is returned by Update, Remove, and Proof when the named tool
// is not registered.
var ErrNotFound = errors.New("registry: tool not found")

// DriftLevel classifies the difference between a registered schema and an
// observed one.
type DriftLevel string

const (
	// DriftNone means canonical hashes match exactly.
	DriftNone DriftLevel = "none"
	// DriftMinor means canonical hashes differ but stable-field hashes match
	// (a description-only edit).
	DriftMinor DriftLevel = "minor"
	// DriftMajor means stable-field hashes also differ.
	DriftMajor DriftLevel = "major"
)

// Less reports whether d is a smaller drift than other, using the fixed
// ordering None < Minor < Major. Unknown levels sort after Major.
func (d DriftLevel) Less(other DriftLevel) bool {
	return driftRank(d) < driftRank(other)
}

func driftRank(d DriftLevel) int {
	switch d {
	case DriftNone:
		return 0
	case DriftMinor:
		return 1
	case DriftMajor:
		return 2
	default:
		return 3
	}
}

// CheckResult is the outcome of classifying an observed schema against the
// registry.
type CheckResult struct {
	// Known is false when the tool name has no registered schema.
	Known bool
	// Drift is the classified drift level; meaningful only when Known is true.
	Drift DriftLevel
}

// RegisteredTool is the persisted record for one tool.
type RegisteredTool struct {
	// Name is the primary key; at most one registration exists per name.
	Name string
	// CanonicalHash is the canonical hash of the full registered schema.
	CanonicalHash canon.Hash
	// StableHash is the canonical hash of the schema's stable-fields
	// projection (everything except free-text description fields).
	StableHash canon.Hash
	// RegisteredAt is when the tool was registered, UTC.
	RegisteredAt time.Time
	// Description is the registered tool's human-readable description,
	// kept for display purposes only — it plays no role in hashing beyond
	// being excluded from the stable projection.
	Description string
}

// Store persists RegisteredTool records keyed by name.
type Store interface {
	// Register inserts a new record. Returns ErrAlreadyRegistered if name
	// already exists.
	Register(t RegisteredTool) error
	// Update replaces an existing record. Returns ErrNotFound if name
	// does not exist.
	Update(t RegisteredTool) error
	// Remove deletes a record. Returns ErrNotFound if name does not exist.
	Remove(name string) error
	// Lookup returns the record for name, or ok=false if absent.
	Lookup(name string) (RegisteredTool, bool)
	// All returns every registered record, in no particular order.
	All() []RegisteredTool
}

// stableFieldKeys lists the schema keys excluded from the stable-fields
// projection: free-text description fields and anything reachable only
// through them.
var stableFieldKeys = map[string]bool{
	"description": true,
	"title":       true,
}

// stableProjection returns a copy of schema with stableFieldKeys removed at
// every level of the tree, so that edits confined to those keys do not
// change the projection's canonical hash.
func stableProjection(schema interface{}) interface{} {
	switch v := schema.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			if stableFieldKeys[k] {
				continue
			}
			out[k] = stableProjection(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = stableProjection(val)
		}
		return out
	default:
		return v
	}
}

// hashSchema computes both the canonical hash and the stable-fields hash of
// a schema.
func hashSchema(schema interface{}) (canonical, stable canon.Hash, err error) {
	canonical, err = canon.Sum(schema)
	if err != nil {
		return canon.Hash{}, canon.Hash{}, err
	}
	stable, err = canon.Sum(stableProjection(schema))
	if err != nil {
		return canon.Hash{}, canon.Hash{}, err
	}
	return canonical, stable, nil
}

// classify compares an observed pair of hashes against a registered record.
func classify(registered RegisteredTool, canonical, stable canon.Hash) DriftLevel {
	if registered.CanonicalHash == canonical {
		return DriftNone
	}
	if registered.StableHash == stable {
		return DriftMinor
	}
	return DriftMajor
}
