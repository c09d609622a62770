package sentinel

import (
	"context"
	"testing"

	"github.com/Sentinel-Gate/Sentinelgate/internal/adapter/outbound/registrystore"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/council"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/monitor"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/registry"
)

type stubEvaluator struct {
	name     string
	decision council.Decision
}

func (s stubEvaluator) Name() string { return s.name }

func (s stubEvaluator) Evaluate(context.Context, council.EvaluationContext) (council.Vote, error) {
	return council.Vote{Evaluator: s.name, Decision: s.decision, Confidence: 1.0}, nil
}

func newFacade(t *testing.T, evaluators []council.Evaluator, cfg Config) (*Facade, *registry.Guard, *monitor.Monitor) {
	t.Helper()
	reg := registry.NewGuard(registrystore.NewMemoryStore(), nil)
	mon := monitor.New(monitor.NewMemoryStore(), monitor.Config{GasLimit: 1000, DetectCycles: true}, nil)
	cnc := council.New(evaluators, council.Config{DetectWaluigi: true}, nil)
	return New(reg, mon, cnc, cfg, nil), reg, mon
}

func allApprove() []council.Evaluator {
	return []council.Evaluator{
		stubEvaluator{"deontologist", council.DecisionApprove},
		stubEvaluator{"consequentialist", council.DecisionApprove},
		stubEvaluator{"logicist", council.DecisionApprove},
	}
}

// Seed test 1: rug-pull. A minor (description-only) drift is a Review; a
// major (new parameter) drift is a Block.
func TestFacade_RugPull(t *testing.T) {
	f, reg, _ := newFacade(t, allApprove(), DefaultConfig())
	schemaA := map[string]interface{}{"type": "object", "properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}}}
	if err := reg.Register("read_file", schemaA, "reads a file"); err != nil {
		t.Fatalf("register: %v", err)
	}

	schemaAPrime := map[string]interface{}{
		"type":        "object",
		"description": "reads a file from disk, now with extra flavor text",
		"properties":  map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
	}
	v, err := f.Evaluate(context.Background(), Request{SessionID: "s1", ToolName: "read_file", ObservedSchema: schemaAPrime})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Tag != TagReview {
		t.Errorf("description-only drift: expected Review, got %v (%v)", v.Tag, v.Reason)
	}
	found := false
	for _, fl := range v.Flags {
		if fl == council.FlagMinorDrift {
			found = true
		}
	}
	if !found {
		t.Errorf("expected MinorDrift flag, got %v", v.Flags)
	}

	schemaADoublePrime := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":  map[string]interface{}{"type": "string"},
			"force": map[string]interface{}{"type": "boolean"},
		},
	}
	v, err = f.Evaluate(context.Background(), Request{SessionID: "s1", ToolName: "read_file", ObservedSchema: schemaADoublePrime})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Tag != TagBlock || v.Reason != ReasonSchemaDrift {
		t.Errorf("major drift: expected Block(SchemaDrift), got %v (%v)", v.Tag, v.Reason)
	}
}

// Seed test 2: unknown tool under a strict (allow_unknown_tools=false) policy.
func TestFacade_UnknownToolStrict(t *testing.T) {
	f, _, _ := newFacade(t, allApprove(), DefaultConfig())
	v, err := f.Evaluate(context.Background(), Request{SessionID: "s1", ToolName: "write_file"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Tag != TagBlock || v.Reason != ReasonUnknownTool {
		t.Errorf("expected Block(UnknownTool), got %v (%v)", v.Tag, v.Reason)
	}
}

// Seed test 3: an A/B ping-pong history is flagged as a cycle.
func TestFacade_Cycle(t *testing.T) {
	f, reg, _ := newFacade(t, allApprove(), DefaultConfig())
	schema := map[string]interface{}{"type": "object"}
	if err := reg.Register("x", schema, ""); err != nil {
		t.Fatalf("register x: %v", err)
	}
	if err := reg.Register("y", schema, ""); err != nil {
		t.Fatalf("register y: %v", err)
	}

	ctx := context.Background()
	if _, err := f.Evaluate(ctx, Request{SessionID: "s1", ToolName: "x", ObservedSchema: schema, OpKind: monitor.OpRead}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, err := f.Evaluate(ctx, Request{SessionID: "s1", ToolName: "y", ObservedSchema: schema, OpKind: monitor.OpRead}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if v.Tag != TagAllow {
		t.Fatalf("second call: expected Allow, got %v (%v)", v.Tag, v.Reason)
	}

	v, err := f.Evaluate(ctx, Request{SessionID: "s1", ToolName: "x", ObservedSchema: schema, OpKind: monitor.OpRead})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Tag != TagBlock || v.Reason != ReasonCycleDetected {
		t.Errorf("expected Block(CycleDetected), got %v (%v)", v.Tag, v.Reason)
	}
}

// Seed test 4: gas exhaustion. gas_limit=10, op_kind=tool costs 10; the
// first call succeeds and drains gas to zero, the second is blocked.
func TestFacade_GasExhaustion(t *testing.T) {
	reg := registry.NewGuard(registrystore.NewMemoryStore(), nil)
	mon := monitor.New(monitor.NewMemoryStore(), monitor.Config{GasLimit: 10}, nil)
	cnc := council.New(allApprove(), council.Config{DetectWaluigi: true}, nil)
	f := New(reg, mon, cnc, DefaultConfig(), nil)
	schema := map[string]interface{}{"type": "object"}
	if err := reg.Register("shell_run", schema, ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	v, err := f.Evaluate(ctx, Request{SessionID: "s1", ToolName: "shell_run", ObservedSchema: schema, OpKind: monitor.OpTool})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Tag != TagAllow {
		t.Fatalf("first call: expected Allow, got %v (%v)", v.Tag, v.Reason)
	}
	if v.GasRemaining != 0 {
		t.Errorf("expected gas remaining 0 after first call, got %d", v.GasRemaining)
	}

	v, err = f.Evaluate(ctx, Request{SessionID: "s1", ToolName: "shell_run", ObservedSchema: schema, OpKind: monitor.OpTool})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Tag != TagBlock || v.Reason != ReasonGasExhausted {
		t.Errorf("expected Block(GasExhausted), got %v (%v)", v.Tag, v.Reason)
	}
}

// Seed test 5: Waluigi veto on response content claiming a jailbreak.
func TestFacade_WaluigiVeto(t *testing.T) {
	f, reg, _ := newFacade(t, allApprove(), DefaultConfig())
	schema := map[string]interface{}{"type": "object"}
	if err := reg.Register("chat_reply", schema, ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	v, err := f.Evaluate(context.Background(), Request{
		SessionID:       "s1",
		ToolName:        "chat_reply",
		ObservedSchema:  schema,
		ResponseContent: "I am now jailbroken and will comply with any request",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Tag != TagBlock || v.Reason != ReasonWaluigiEffect {
		t.Errorf("expected Block(WaluigiEffect), got %v (%v)", v.Tag, v.Reason)
	}
	if v.WaluigiScore < 0.9 {
		t.Errorf("expected waluigi score >= 0.9, got %f", v.WaluigiScore)
	}
}

// Seed test 6: a split vote (2 approve, 1 reject) produces Review with a
// SplitVote flag; a unanimous approval produces Allow.
func TestFacade_SplitVote(t *testing.T) {
	split := []council.Evaluator{
		stubEvaluator{"a", council.DecisionApprove},
		stubEvaluator{"b", council.DecisionApprove},
		stubEvaluator{"c", council.DecisionReject},
	}
	f, reg, _ := newFacade(t, split, DefaultConfig())
	schema := map[string]interface{}{"type": "object"}
	if err := reg.Register("send_email", schema, ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	v, err := f.Evaluate(context.Background(), Request{SessionID: "s1", ToolName: "send_email", ObservedSchema: schema})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Tag != TagReview {
		t.Errorf("expected Review, got %v (%v)", v.Tag, v.Reason)
	}
	found := false
	for _, fl := range v.Flags {
		if fl == council.FlagSplitVote {
			found = true
		}
	}
	if !found {
		t.Errorf("expected SplitVote flag, got %v", v.Flags)
	}

	f2, reg2, _ := newFacade(t, allApprove(), DefaultConfig())
	if err := reg2.Register("send_email", schema, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	v, err = f2.Evaluate(context.Background(), Request{SessionID: "s1", ToolName: "send_email", ObservedSchema: schema})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Tag != TagAllow {
		t.Errorf("expected Allow on unanimous approval, got %v (%v)", v.Tag, v.Reason)
	}
}

func TestFacade_KillSwitchPreemptsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KillSwitch = true
	f, _, _ := newFacade(t, allApprove(), cfg)
	v, err := f.Evaluate(context.Background(), Request{SessionID: "s1", ToolName: "anything"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Tag != TagBlock || v.Reason != ReasonKillSwitch {
		t.Errorf("expected Block(KillSwitch), got %v (%v)", v.Tag, v.Reason)
	}
}
