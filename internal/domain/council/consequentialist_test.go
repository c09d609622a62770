package council

import (
	"context"
	"testing"
)

func TestConsequentialist_DestructiveToolRejects(t *testing.T) {
	c := NewConsequentialist()
	v, err := c.Evaluate(context.Background(), EvaluationContext{ToolName: "delete_database"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Decision != DecisionReject {
		t.Errorf("expected Reject for a destructive tool name, got %v", v.Decision)
	}
}

func TestConsequentialist_BenignToolApproves(t *testing.T) {
	c := NewConsequentialist()
	v, err := c.Evaluate(context.Background(), EvaluationContext{ToolName: "list_files"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Decision != DecisionApprove {
		t.Errorf("expected Approve for a benign tool name, got %v", v.Decision)
	}
}
