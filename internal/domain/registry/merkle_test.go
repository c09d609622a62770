package registry

import (
	"testing"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/canon"
)

func hashOf(s string) canon.Hash {
	h, err := canon.Sum(s)
	if err != nil {
		panic(err)
	}
	return h
}

func TestBuild_EmptyRoot(t *testing.T) {
	tree := Build(nil)
	root := tree.Root()
	if root.IsZero() {
		t.Errorf("empty tree root should be well-defined, not zero")
	}

	tree2 := Build(map[string]canon.Hash{})
	if tree2.Root() != root {
		t.Errorf("empty root must be deterministic across builds")
	}
}

func TestBuild_SingleLeafProof(t *testing.T) {
	h := hashOf("a")
	tree := Build(map[string]canon.Hash{"tool-a": h})

	if tree.Root() != h {
		t.Errorf("single-leaf tree root should equal the leaf hash")
	}

	proof, err := tree.Proof("tool-a")
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	if len(proof.Steps) != 0 {
		t.Errorf("single-leaf proof should have an empty sibling path, got %d steps", len(proof.Steps))
	}
	if !Verify(proof.Leaf, proof, tree.Root()) {
		t.Errorf("verify should succeed for single-leaf proof")
	}
}

func TestBuild_OddLeafDuplication(t *testing.T) {
	entries := map[string]canon.Hash{
		"a": hashOf("a"),
		"b": hashOf("b"),
		"c": hashOf("c"),
	}
	tree := Build(entries)

	for name := range entries {
		proof, err := tree.Proof(name)
		if err != nil {
			t.Fatalf("proof(%s): %v", name, err)
		}
		if !Verify(proof.Leaf, proof, tree.Root()) {
			t.Errorf("verify failed for %s with odd leaf count", name)
		}
	}
}

func TestVerify_RejectsTamperedProof(t *testing.T) {
	entries := map[string]canon.Hash{
		"a": hashOf("a"),
		"b": hashOf("b"),
		"c": hashOf("c"),
		"d": hashOf("d"),
	}
	tree := Build(entries)
	proof, err := tree.Proof("a")
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	if !Verify(proof.Leaf, proof, tree.Root()) {
		t.Fatalf("expected valid proof to verify")
	}

	tampered := proof
	tampered.Steps = append([]ProofStep{}, proof.Steps...)
	tampered.Steps[0].Sibling[0] ^= 0xFF
	if Verify(proof.Leaf, tampered, tree.Root()) {
		t.Errorf("expected tampered proof to fail verification")
	}

	tamperedLeaf := proof.Leaf
	tamperedLeaf[0] ^= 0xFF
	if Verify(tamperedLeaf, proof, tree.Root()) {
		t.Errorf("expected tampered leaf to fail verification")
	}
}

func TestBuild_DeterministicAcrossInsertOrder(t *testing.T) {
	e1 := map[string]canon.Hash{"x": hashOf("x"), "y": hashOf("y"), "z": hashOf("z")}
	e2 := map[string]canon.Hash{"z": hashOf("z"), "x": hashOf("x"), "y": hashOf("y")}

	t1 := Build(e1)
	t2 := Build(e2)
	if t1.Root() != t2.Root() {
		t.Errorf("root should not depend on map iteration/insert order")
	}
}
