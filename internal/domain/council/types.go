// Package council implements the Cognitive Council: a multi-evaluator
// consensus engine plus a pattern-based alignment-inversion detector,
// composed into a short-circuiting verdict pipeline.
package council

import (
	"context"
	"errors"
	"time"
)

// Decision is one evaluator's vote on a proposed action.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionAbstain Decision = "abstain"
)

// Vote is the result of a single evaluator's pass over an EvaluationContext.
type Vote struct {
	Evaluator  string
	Decision   Decision
	Confidence float64
	Rationale  string
}

// HistoryEntry is one prior verdict recorded against a session, used by the
// Logicist to test for contradiction and by the Waluigi detector's reversal
// heuristic.
type HistoryEntry struct {
	ToolName string
	Approved bool
	Refused  bool
	At       time.Time
}

// EvaluationContext carries everything an Evaluator needs to vote on a
// proposed action. Evaluators are pure over this value: they must not
// retain or mutate it between calls.
type EvaluationContext struct {
	SessionID string
	ToolName  string
	OpKind    string
	Arguments map[string]interface{}
	History   []HistoryEntry
}

// Evaluator is the Council's capability contract. Any number of evaluators
// may be registered; the aggregator treats them as a homogeneous set, never
// as a class hierarchy.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, ec EvaluationContext) (Vote, error)
}

// Flag is an advisory marker attached to a Review or, in SplitVote's case,
// to a passing Allow.
type Flag string

const (
	FlagMinorDrift        Flag = "MinorDrift"
	FlagNewTool           Flag = "NewTool"
	FlagHighGasUsage      Flag = "HighGasUsage"
	FlagSplitVote         Flag = "SplitVote"
	FlagBorderlineWaluigi Flag = "BorderlineWaluigi"
)

// ErrNoQuorum names the no-quorum condition (fewer than min_voters cast a
// non-abstain vote). Aggregate does not return it: it reports no quorum as
// OutcomeBlock, which the facade maps to Block(CouncilRejected).
var ErrNoQuorum = errors.New("council: no quorum")
