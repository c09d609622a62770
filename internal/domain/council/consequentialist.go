package council

import (
	"context"
	"fmt"
	"strings"
)

// weightedPattern is a substring pattern contributing a worst-case-impact
// score when it appears in a tool name, adapted from the teacher's flat
// risk-tier pattern tables (internal/domain/tool/classifier.go) into a
// continuous confidence score instead of a four-level enum.
type weightedPattern struct {
	pattern string
	weight  float64
}

// defaultImpactPatterns assigns each teacher risk tier's patterns a
// representative worst-case weight; the highest matching weight wins.
var defaultImpactPatterns = []weightedPattern{
	{"delete", 0.95}, {"remove", 0.9}, {"drop", 0.95}, {"destroy", 0.95},
	{"execute", 0.95}, {"exec", 0.9}, {"shell", 0.95}, {"command", 0.85},
	{"admin", 0.9}, {"sudo", 0.95}, {"root", 0.85}, {"truncate", 0.9},

	{"write", 0.6}, {"create", 0.55}, {"update", 0.55}, {"modify", 0.6},
	{"send", 0.5}, {"post", 0.45}, {"upload", 0.55}, {"deploy", 0.7},
	{"install", 0.65}, {"connect", 0.4}, {"put", 0.45},

	{"fetch", 0.25}, {"download", 0.3}, {"export", 0.35}, {"query", 0.2},
	{"search", 0.15}, {"get", 0.15},
}

// Consequentialist scores the plausible worst-case impact of a proposed
// action. A score at or above rejectThreshold votes Reject; otherwise it votes
// Approve with confidence proportional to how far below threshold it sits.
type Consequentialist struct {
	patterns        []weightedPattern
	rejectThreshold float64
}

// NewConsequentialist builds a Consequentialist with the default impact
// pattern table and a 0.85 reject threshold (critical-tier territory).
func NewConsequentialist() *Consequentialist {
	return &Consequentialist{patterns: defaultImpactPatterns, rejectThreshold: 0.85}
}

func (c *Consequentialist) Name() string { return "consequentialist" }

func (c *Consequentialist) Evaluate(_ context.Context, ec EvaluationContext) (Vote, error) {
	name := strings.ToLower(ec.ToolName)

	var worst weightedPattern
	var matched string
	for _, p := range c.patterns {
		if strings.Contains(name, p.pattern) && p.weight > worst.weight {
			worst = p
			matched = p.pattern
		}
	}

	if worst.weight >= c.rejectThreshold {
		return Vote{
			Evaluator:  c.Name(),
			Decision:   DecisionReject,
			Confidence: worst.weight,
			Rationale:  fmt.Sprintf("worst-case impact score %.2f exceeds threshold (matched %q)", worst.weight, matched),
		}, nil
	}

	confidence := 1.0 - worst.weight
	rationale := "no impactful pattern matched"
	if matched != "" {
		rationale = fmt.Sprintf("worst-case impact score %.2f below threshold (matched %q)", worst.weight, matched)
	}
	return Vote{
		Evaluator:  c.Name(),
		Decision:   DecisionApprove,
		Confidence: confidence,
		Rationale:  rationale,
	}, nil
}
