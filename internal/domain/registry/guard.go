package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/canon"
)

// Guard is the Registry Guard surface: a Store plus a cached Merkle index
// over the canonical hashes of all currently registered tools. Readers
// (Lookup, Root, Proof, Check) may run concurrently; writers (Register,
// Update, Remove) are exclusive, matching the registry's read-many /
// write-one concurrency discipline.
type Guard struct {
	mu     sync.RWMutex
	store  Store
	tree   *Tree
	logger *slog.Logger
}

// NewGuard creates a Guard over the given Store and builds its initial
// Merkle index from whatever records the store already holds.
func NewGuard(store Store, logger *slog.Logger) *Guard {
	g := &Guard{store: store, logger: logger}
	g.rebuildLocked()
	return g
}

// rebuildLocked recomputes the cached Merkle tree from the store's current
// contents. Callers must hold mu for writing.
func (g *Guard) rebuildLocked() {
	all := g.store.All()
	entries := make(map[string]canon.Hash, len(all))
	for _, t := range all {
		entries[t.Name] = t.CanonicalHash
	}
	g.tree = Build(entries)
}

// Register inserts a new tool schema and rebuilds the Merkle root. Returns
// ErrAlreadyRegistered if name is already registered.
func (g *Guard) Register(name string, schema interface{}, description string) error {
	canonical, stable, err := hashSchema(schema)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.Register(RegisteredTool{
		Name:          name,
		CanonicalHash: canonical,
		StableHash:    stable,
		RegisteredAt:  time.Now().UTC(),
		Description:   description,
	}); err != nil {
		return err
	}
	g.rebuildLocked()
	if g.logger != nil {
		g.logger.Info("registry: tool registered", "tool_name", name, "root", g.tree.Root().String())
	}
	return nil
}

// Update replaces an existing tool's schema and rebuilds the Merkle root.
// Returns ErrNotFound if name is not registered.
func (g *Guard) Update(name string, schema interface{}, description string) error {
	canonical, stable, err := hashSchema(schema)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	existing, ok := g.store.Lookup(name)
	if !ok {
		return ErrNotFound
	}

	if err := g.store.Update(RegisteredTool{
		Name:          name,
		CanonicalHash: canonical,
		StableHash:    stable,
		RegisteredAt:  existing.RegisteredAt,
		Description:   description,
	}); err != nil {
		return err
	}
	g.rebuildLocked()
	if g.logger != nil {
		g.logger.Info("registry: tool updated", "tool_name", name, "root", g.tree.Root().String())
	}
	return nil
}

// Remove deletes a tool's registration and rebuilds the Merkle root.
// Returns ErrNotFound if name is not registered.
func (g *Guard) Remove(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.Remove(name); err != nil {
		return err
	}
	g.rebuildLocked()
	if g.logger != nil {
		g.logger.Info("registry: tool removed", "tool_name", name, "root", g.tree.Root().String())
	}
	return nil
}

// Lookup returns the registered record for name, if any.
func (g *Guard) Lookup(name string) (RegisteredTool, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Lookup(name)
}

// Root returns the cached Merkle root.
func (g *Guard) Root() canon.Hash {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tree.Root()
}

// All returns every currently registered tool, for read-only admin listing.
func (g *Guard) All() []RegisteredTool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.All()
}

// Proof returns the leaf hash and sibling path for name. Returns
// ErrNotFound if name is not registered.
func (g *Guard) Proof(name string) (Proof, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.store.Lookup(name); !ok {
		return Proof{}, ErrNotFound
	}
	p, err := g.tree.Proof(name)
	if err == ErrLeafNotFound {
		return Proof{}, ErrNotFound
	}
	return p, err
}

// Check classifies an observed schema against the registry. It never
// returns an error from drift classification itself; Known=false means the
// tool name has no registered schema.
func (g *Guard) Check(name string, observedSchema interface{}) (CheckResult, error) {
	canonical, stable, err := hashSchema(observedSchema)
	if err != nil {
		return CheckResult{}, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	registered, ok := g.store.Lookup(name)
	if !ok {
		return CheckResult{Known: false}, nil
	}
	return CheckResult{Known: true, Drift: classify(registered, canonical, stable)}, nil
}
