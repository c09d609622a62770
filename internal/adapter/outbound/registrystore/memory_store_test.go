package registrystore

import (
	"testing"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/registry"
)

func TestMemoryStore_RegisterLookupRemove(t *testing.T) {
	s := NewMemoryStore()
	tool := registry.RegisteredTool{Name: "read_file", RegisteredAt: time.Now().UTC()}

	if err := s.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(tool); err != registry.ErrAlreadyRegistered {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}

	got, ok := s.Lookup("read_file")
	if !ok || got.Name != "read_file" {
		t.Errorf("lookup failed: %+v, %v", got, ok)
	}

	if err := s.Remove("read_file"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove("read_file"); err != registry.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_UpdateMissing(t *testing.T) {
	s := NewMemoryStore()
	err := s.Update(registry.RegisteredTool{Name: "missing"})
	if err != registry.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
