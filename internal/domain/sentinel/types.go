// Package sentinel implements the facade that orchestrates the Registry
// Guard, State Monitor, and Cognitive Council into a single short-circuiting
// verdict pipeline, and owns the process-wide configuration that drives it.
package sentinel

import (
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/council"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/monitor"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/registry"
)

// Reason is the fixed set of Block reasons.
type Reason string

const (
	ReasonSchemaDrift     Reason = "SchemaDrift"
	ReasonHashMismatch    Reason = "HashMismatch"
	ReasonUnknownTool     Reason = "UnknownTool"
	ReasonCycleDetected   Reason = "CycleDetected"
	ReasonGasExhausted    Reason = "GasExhausted"
	ReasonContextOverflow Reason = "ContextOverflow"
	ReasonCouncilRejected Reason = "CouncilRejected"
	ReasonWaluigiEffect   Reason = "WaluigiEffect"
	ReasonKillSwitch      Reason = "KillSwitch"
	ReasonInternalError   Reason = "InternalError"
)

// Tag is the verdict's discriminant.
type Tag string

const (
	TagAllow  Tag = "allow"
	TagBlock  Tag = "block"
	TagReview Tag = "review"
)

// Request is submitted to the facade for one tool-invocation decision.
type Request struct {
	SessionID       string
	ToolName        string
	ObservedSchema  interface{}
	Parameters      map[string]interface{}
	OpKind          monitor.OpKind
	ResponseContent string
	Deadline        time.Time

	// RequestID correlates this request with its audit record and with the
	// originating CanonicalAction. If empty, the facade generates one.
	RequestID string
	// PreviousHistory seeds a session the monitor has not yet seen (spec.md
	// §6's previous_history); ignored once the session is already tracked.
	PreviousHistory []monitor.HistoryEntry
}

// Verdict is the facade's terminal decision for a Request, carrying enough
// operator-visible detail to reconstruct the decision from an audit record.
type Verdict struct {
	Tag       Tag
	Reason    Reason
	Flags     []council.Flag
	RequestID string

	DriftLevel     registry.DriftLevel
	GasRemaining   uint64
	CycleDetector  string
	CyclePeriod    int
	EvaluatorVotes []council.Vote
	WaluigiScore   float64
	WaluigiMatches int
}

// IsBlock reports whether the verdict terminates the request.
func (v Verdict) IsBlock() bool { return v.Tag == TagBlock }
