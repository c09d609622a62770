package registry

import "testing"

// testStore is a minimal in-memory Store for unit tests of Guard, kept
// local to this package so registry tests do not depend on the outbound
// adapter.
type testStore struct {
	records map[string]RegisteredTool
}

func newTestStore() *testStore {
	return &testStore{records: make(map[string]RegisteredTool)}
}

func (s *testStore) Register(t RegisteredTool) error {
	if _, ok := s.records[t.Name]; ok {
		return ErrAlreadyRegistered
	}
	s.records[t.Name] = t
	return nil
}

func (s *testStore) Update(t RegisteredTool) error {
	if _, ok := s.records[t.Name]; !ok {
		return ErrNotFound
	}
	s.records[t.Name] = t
	return nil
}

func (s *testStore) Remove(name string) error {
	if _, ok := s.records[name]; !ok {
		return ErrNotFound
	}
	delete(s.records, name)
	return nil
}

func (s *testStore) Lookup(name string) (RegisteredTool, bool) {
	t, ok := s.records[name]
	return t, ok
}

func (s *testStore) All() []RegisteredTool {
	out := make([]RegisteredTool, 0, len(s.records))
	for _, t := range s.records {
		out = append(out, t)
	}
	return out
}

func schemaA() map[string]interface{} {
	return map[string]interface{}{
		"name":        "read_file",
		"description": "Reads a file from disk",
		"parameters": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
		},
	}
}

func TestGuard_RegisterThenCheck_NoDrift(t *testing.T) {
	g := NewGuard(newTestStore(), nil)
	if err := g.Register("read_file", schemaA(), "Reads a file from disk"); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := g.Check("read_file", schemaA())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Known || res.Drift != DriftNone {
		t.Errorf("expected Known(None), got %+v", res)
	}
}

func TestGuard_Check_MinorDriftOnDescriptionChange(t *testing.T) {
	g := NewGuard(newTestStore(), nil)
	if err := g.Register("read_file", schemaA(), "Reads a file from disk"); err != nil {
		t.Fatalf("register: %v", err)
	}

	observed := schemaA()
	observed["description"] = "Reads the contents of a file"

	res, err := g.Check("read_file", observed)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Known || res.Drift != DriftMinor {
		t.Errorf("expected Known(Minor), got %+v", res)
	}
}

func TestGuard_Check_MajorDriftOnParameterChange(t *testing.T) {
	g := NewGuard(newTestStore(), nil)
	if err := g.Register("read_file", schemaA(), "Reads a file from disk"); err != nil {
		t.Fatalf("register: %v", err)
	}

	observed := schemaA()
	params := observed["parameters"].(map[string]interface{})
	params["encoding"] = map[string]interface{}{"type": "string"}

	res, err := g.Check("read_file", observed)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Known || res.Drift != DriftMajor {
		t.Errorf("expected Known(Major), got %+v", res)
	}
}

func TestGuard_Check_Unknown(t *testing.T) {
	g := NewGuard(newTestStore(), nil)
	res, err := g.Check("write_file", schemaA())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Known {
		t.Errorf("expected unknown tool to report Known=false")
	}
}

func TestGuard_RegisterDuplicate(t *testing.T) {
	g := NewGuard(newTestStore(), nil)
	if err := g.Register("read_file", schemaA(), ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := g.Register("read_file", schemaA(), ""); err != ErrAlreadyRegistered {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestGuard_RegisterThenUpdate_RootUnchanged(t *testing.T) {
	g := NewGuard(newTestStore(), nil)
	if err := g.Register("read_file", schemaA(), "v1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	rootBefore := g.Root()

	if err := g.Update("read_file", schemaA(), "v1"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if g.Root() != rootBefore {
		t.Errorf("update with identical schema should leave root unchanged")
	}
}

func TestGuard_RemoveThenReregister_IdenticalRoot(t *testing.T) {
	g := NewGuard(newTestStore(), nil)
	if err := g.Register("read_file", schemaA(), "v1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := g.Register("write_file", schemaA(), "v1"); err != nil {
		t.Fatalf("register second tool: %v", err)
	}
	rootBefore := g.Root()

	if err := g.Remove("read_file"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := g.Register("read_file", schemaA(), "v1"); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if g.Root() != rootBefore {
		t.Errorf("remove then re-register with identical bytes should yield identical root")
	}
}

func TestGuard_ProofVerifiesAgainstRoot(t *testing.T) {
	g := NewGuard(newTestStore(), nil)
	for _, name := range []string{"a", "b", "c"} {
		if err := g.Register(name, schemaA(), name); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	proof, err := g.Proof("b")
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	if !Verify(proof.Leaf, proof, g.Root()) {
		t.Errorf("proof should verify against the guard's root")
	}
}

func TestGuard_EmptyRegistry(t *testing.T) {
	g := NewGuard(newTestStore(), nil)
	if g.Root().IsZero() {
		t.Errorf("empty registry root must be well-defined")
	}
	res, err := g.Check("anything", schemaA())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Known {
		t.Errorf("empty registry should report Unknown for every name")
	}
}
