package council

import (
	"context"
	"fmt"
	"strings"

	gocel "github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/Sentinelgate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
)

// Rule is one forbidden-action rule compiled by the Deontologist. Expression
// is a CEL boolean expression evaluated against the proposed action; a true
// result means the rule is violated.
type Rule struct {
	Name       string
	Expression string
	Rationale  string
}

// DefaultRules mirrors the teacher's critical/high tool-name pattern tables
// (internal/domain/tool/classifier.go), expressed as forbidden-action rules
// rather than a flat risk tier.
var DefaultRules = []Rule{
	{
		Name:       "forbidden_destructive_tool",
		Expression: `tool_name.matches("(?i)(delete|remove|drop|destroy|truncate)")`,
		Rationale:  "tool name matches a destructive-operation pattern",
	},
	{
		Name:       "forbidden_system_command",
		Expression: `tool_name.matches("(?i)(exec|shell|command|sudo|root)")`,
		Rationale:  "tool name matches a system-command pattern",
	},
}

// Deontologist evaluates the proposed action against a compiled rule set of
// forbidden tool names, parameter patterns, and policy tags. Any rule
// matching votes Reject; an empty rule set votes Approve.
type Deontologist struct {
	evaluator *cel.Evaluator
	programs  []compiledRule
}

type compiledRule struct {
	rule Rule
	prg  gocel.Program
}

// NewDeontologist compiles rules against the shared policy CEL environment.
func NewDeontologist(rules []Rule) (*Deontologist, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("council: deontologist environment: %w", err)
	}

	programs := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		prg, err := evaluator.Compile(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("council: deontologist rule %q: %w", r.Name, err)
		}
		programs = append(programs, compiledRule{rule: r, prg: prg})
	}

	return &Deontologist{evaluator: evaluator, programs: programs}, nil
}

func (d *Deontologist) Name() string { return "deontologist" }

func (d *Deontologist) Evaluate(_ context.Context, ec EvaluationContext) (Vote, error) {
	evalCtx := policy.EvaluationContext{
		ToolName:      ec.ToolName,
		ToolArguments: ec.Arguments,
		SessionID:     ec.SessionID,
		ActionName:    ec.ToolName,
		ActionType:    "tool_call",
	}

	var violated []string
	for _, cr := range d.programs {
		matched, err := d.evaluator.Evaluate(cr.prg, evalCtx)
		if err != nil {
			return Vote{}, fmt.Errorf("council: deontologist rule %q evaluation: %w", cr.rule.Name, err)
		}
		if matched {
			violated = append(violated, cr.rule.Rationale)
		}
	}

	if len(violated) > 0 {
		return Vote{
			Evaluator:  d.Name(),
			Decision:   DecisionReject,
			Confidence: 1.0,
			Rationale:  strings.Join(violated, "; "),
		}, nil
	}

	return Vote{
		Evaluator:  d.Name(),
		Decision:   DecisionApprove,
		Confidence: 1.0,
		Rationale:  "no forbidden-action rule matched",
	}, nil
}
