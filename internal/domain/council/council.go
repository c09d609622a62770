package council

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/council/waluigi"
)

// Config holds Council-wide tunables.
type Config struct {
	Aggregator       AggregatorConfig
	DetectWaluigi    bool
	WaluigiThreshold float64
}

// DefaultWaluigiThreshold matches spec.md's 0.7 veto threshold.
const DefaultWaluigiThreshold = 0.7

// Result is the Council's full verdict over one proposed action: the
// Waluigi pass (if enabled), every evaluator's vote, and the aggregator's
// outcome. A Waluigi veto short-circuits the evaluator votes entirely.
type Result struct {
	WaluigiVetoed  bool
	WaluigiScore   float64
	WaluigiMatches []waluigi.Match
	Votes          []Vote
	Outcome        Outcome
	Flags          []Flag
}

// Council composes the Waluigi detector, the registered evaluators, and the
// consensus aggregator into the short-circuiting pipeline spec.md
// describes: the detector runs first, and a veto skips evaluation.
type Council struct {
	evaluators []Evaluator
	aggregator *Aggregator
	detector   *waluigi.Detector
	cfg        Config
	logger     *slog.Logger
}

// New constructs a Council. evaluators is the registered capability set;
// order is insignificant since the aggregator only counts decisions.
func New(evaluators []Evaluator, cfg Config, logger *slog.Logger) *Council {
	if cfg.WaluigiThreshold == 0 {
		cfg.WaluigiThreshold = DefaultWaluigiThreshold
	}
	return &Council{
		evaluators: evaluators,
		aggregator: NewAggregator(cfg.Aggregator),
		detector:   waluigi.NewDetector(),
		cfg:        cfg,
		logger:     logger,
	}
}

// EvaluatorNames returns the name of every registered evaluator, for
// read-only admin listing.
func (c *Council) EvaluatorNames() []string {
	names := make([]string, len(c.evaluators))
	for i, e := range c.evaluators {
		names[i] = e.Name()
	}
	return names
}

// Deliberate runs the Waluigi pass (if enabled) against content, then (if no
// veto) every registered evaluator against ec, then aggregates their votes.
// reversed signals the Waluigi reversal heuristic: an earlier refusal in
// the session followed by accepting the same action now.
func (c *Council) Deliberate(ctx context.Context, ec EvaluationContext, content string, reversed bool) (Result, error) {
	if c.cfg.DetectWaluigi {
		assessment := c.detector.Scan(content, reversed)
		if assessment.Score >= c.cfg.WaluigiThreshold {
			if c.logger != nil {
				c.logger.Warn("council: waluigi veto", "session_id", ec.SessionID, "tool_name", ec.ToolName, "score", assessment.Score)
			}
			return Result{
				WaluigiVetoed:  true,
				WaluigiScore:   assessment.Score,
				WaluigiMatches: assessment.MatchedPattern,
			}, nil
		}

		result := Result{WaluigiScore: assessment.Score, WaluigiMatches: assessment.MatchedPattern}
		if assessment.Score >= c.cfg.WaluigiThreshold-0.1 {
			result.Flags = append(result.Flags, FlagBorderlineWaluigi)
		}
		return c.deliberateEvaluators(ctx, ec, result)
	}

	return c.deliberateEvaluators(ctx, ec, Result{})
}

func (c *Council) deliberateEvaluators(ctx context.Context, ec EvaluationContext, result Result) (Result, error) {
	votes := make([]Vote, 0, len(c.evaluators))
	for _, e := range c.evaluators {
		v, err := e.Evaluate(ctx, ec)
		if err != nil {
			return Result{}, fmt.Errorf("council: evaluator %q: %w", e.Name(), err)
		}
		votes = append(votes, v)
		if c.logger != nil {
			c.logger.Info("council: vote", "session_id", ec.SessionID, "evaluator", v.Evaluator, "decision", v.Decision, "confidence", v.Confidence)
		}
	}

	outcome, flags := c.aggregator.Aggregate(votes)
	result.Votes = votes
	result.Outcome = outcome
	result.Flags = append(result.Flags, flags...)
	return result, nil
}
