package council

import "testing"

func votes(approve, reject, abstain int) []Vote {
	var vs []Vote
	for i := 0; i < approve; i++ {
		vs = append(vs, Vote{Decision: DecisionApprove})
	}
	for i := 0; i < reject; i++ {
		vs = append(vs, Vote{Decision: DecisionReject})
	}
	for i := 0; i < abstain; i++ {
		vs = append(vs, Vote{Decision: DecisionAbstain})
	}
	return vs
}

func TestAggregate_NoQuorum(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig())
	outcome, _ := agg.Aggregate(votes(1, 0, 5))
	if outcome != OutcomeBlock {
		t.Errorf("expected Block on no quorum, got %v", outcome)
	}
}

func TestAggregate_UnanimousApprovePasses(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig())
	outcome, flags := agg.Aggregate(votes(3, 0, 0))
	if outcome != OutcomePass {
		t.Fatalf("expected Pass, got %v", outcome)
	}
	if len(flags) != 0 {
		t.Errorf("unanimous approval should carry no flags, got %v", flags)
	}
}

func TestAggregate_SplitVoteAbovePassesWithFlag(t *testing.T) {
	// 2 approve, 1 reject: A/N = 2/3 meets the default threshold exactly.
	agg := NewAggregator(DefaultAggregatorConfig())
	outcome, flags := agg.Aggregate(votes(2, 1, 0))
	if outcome != OutcomePass {
		t.Fatalf("expected Pass at the threshold boundary, got %v", outcome)
	}
	if len(flags) != 1 || flags[0] != FlagSplitVote {
		t.Errorf("expected SplitVote flag on a non-unanimous pass, got %v", flags)
	}
}

func TestAggregate_MajorityRejectBlocks(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig())
	outcome, _ := agg.Aggregate(votes(0, 3, 0))
	if outcome != OutcomeBlock {
		t.Errorf("expected Block on unanimous reject, got %v", outcome)
	}
}

func TestAggregate_EvenSplitBelowThresholdBlocks(t *testing.T) {
	// 1 approve, 1 reject: A/N = 0.5 < 2/3, so the proposal fails the
	// approval branch; since A/N and R/N are exact complements of one
	// another with only two decision categories, falling short of the
	// approval threshold always puts R/N strictly above (1 - threshold),
	// so this lands in Block rather than the Review catch-all.
	agg := NewAggregator(DefaultAggregatorConfig())
	outcome, _ := agg.Aggregate(votes(1, 1, 0))
	if outcome != OutcomeBlock {
		t.Errorf("expected Block below the approval threshold, got %v", outcome)
	}
}

func TestAggregate_AbstainsExcludedFromQuorumMath(t *testing.T) {
	agg := NewAggregator(DefaultAggregatorConfig())
	outcome, _ := agg.Aggregate(votes(2, 0, 10))
	if outcome != OutcomePass {
		t.Errorf("abstains should not affect a clean 2/2 approval, got %v", outcome)
	}
}
