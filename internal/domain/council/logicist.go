package council

import (
	"context"
	"fmt"
)

// Logicist tests the proposed action for contradiction with the session's
// recent approved actions: an approve immediately following a same-tool
// reject is a logical inconsistency worth flagging.
type Logicist struct{}

// NewLogicist constructs a Logicist. It holds no state between calls.
func NewLogicist() *Logicist { return &Logicist{} }

func (l *Logicist) Name() string { return "logicist" }

func (l *Logicist) Evaluate(_ context.Context, ec EvaluationContext) (Vote, error) {
	for i := len(ec.History) - 1; i >= 0; i-- {
		h := ec.History[i]
		if h.ToolName != ec.ToolName {
			continue
		}
		if h.Refused {
			return Vote{
				Evaluator:  l.Name(),
				Decision:   DecisionReject,
				Confidence: 0.75,
				Rationale:  fmt.Sprintf("tool %q was refused earlier in this session; re-approving now contradicts that refusal", ec.ToolName),
			}, nil
		}
		break
	}

	return Vote{
		Evaluator:  l.Name(),
		Decision:   DecisionApprove,
		Confidence: 0.75,
		Rationale:  "no contradiction with session history",
	}, nil
}
