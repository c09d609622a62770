package sentinel

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/audit"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/council"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/monitor"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/registry"
)

// Config holds the Sentinel Facade's process-wide policy knobs. It is held
// behind an atomic.Pointer so the kill switch and thresholds can be swapped
// atomically and read per-request, per spec.md's "single configuration
// value" design note.
type Config struct {
	FailClosed        bool
	ShortCircuit      bool
	KillSwitch        bool
	AllowUnknownTools bool
	MaxAllowedDrift   registry.DriftLevel
}

// DefaultConfig matches spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{
		FailClosed:      true,
		ShortCircuit:    true,
		MaxAllowedDrift: registry.DriftMinor,
	}
}

// AuditRecorder records a completed verdict for compliance/audit purposes.
// Satisfied structurally by *service.AuditService (same shape as
// proxy.AuditRecorder). Recording is best-effort: a nil AuditRecorder
// disables it entirely.
type AuditRecorder interface {
	Record(record audit.AuditRecord)
}

// Facade orchestrates the Registry Guard, State Monitor, and Cognitive
// Council into a single verdict pipeline.
type Facade struct {
	registry *registry.Guard
	monitor  *monitor.Monitor
	council  *council.Council
	cfg      atomic.Pointer[Config]
	logger   *slog.Logger
	auditor  AuditRecorder
}

// New constructs a Facade over already-built subsystems.
func New(reg *registry.Guard, mon *monitor.Monitor, cnc *council.Council, cfg Config, logger *slog.Logger) *Facade {
	f := &Facade{registry: reg, monitor: mon, council: cnc, logger: logger}
	f.SetConfig(cfg)
	return f
}

// SetConfig atomically swaps the facade's configuration; Evaluate reads the
// current configuration once per request.
func (f *Facade) SetConfig(cfg Config) {
	f.cfg.Store(&cfg)
}

// Config returns the facade's current configuration.
func (f *Facade) Config() Config {
	return *f.cfg.Load()
}

// SetAuditRecorder wires a verdict audit sink, e.g. *service.AuditService.
// Optional: without one, verdicts are simply not recorded.
func (f *Facade) SetAuditRecorder(recorder AuditRecorder) {
	f.auditor = recorder
}

// Registry exposes the underlying Registry Guard for read-only admin
// surfaces (e.g. the registry Merkle root endpoint).
func (f *Facade) Registry() *registry.Guard { return f.registry }

// Monitor exposes the underlying State Monitor for read-only admin surfaces
// (e.g. a session snapshot endpoint).
func (f *Facade) Monitor() *monitor.Monitor { return f.monitor }

// Council exposes the underlying Cognitive Council for read-only admin
// surfaces (e.g. listing the registered evaluator set).
func (f *Facade) Council() *council.Council { return f.council }

// Evaluate drives the five-step pipeline of spec.md §4.5 and returns the
// terminal Verdict. An internal error from any stage is never propagated
// to the caller as an error; it is instead mapped into the Verdict per
// fail_closed, matching the "policy and resource failures are verdict
// outcomes, not exceptions" propagation rule. Every exit path records the
// tool's outcome against the monitor's session history (so a later call's
// Logicist/Waluigi evaluation can see it) and appends an audit record.
func (f *Facade) Evaluate(ctx context.Context, req Request) (verdict Verdict, err error) {
	cfg := f.Config()
	fp := monitor.NewFingerprint(req.ToolName, req.Parameters)
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	defer func() {
		if err != nil {
			return
		}
		verdict.RequestID = requestID
		f.monitor.RecordVerdict(req.SessionID, fp, verdict.Tag == TagAllow)
		f.recordAudit(req, requestID, verdict)
	}()

	// Step 0 (kill switch) preempts everything.
	if cfg.KillSwitch {
		if f.logger != nil {
			f.logger.Warn("sentinel: kill switch engaged", "session_id", req.SessionID, "tool_name", req.ToolName)
		}
		return Verdict{Tag: TagBlock, Reason: ReasonKillSwitch}, nil
	}

	f.monitor.SeedHistory(req.SessionID, req.PreviousHistory)

	// v accumulates diagnostics across every stage that runs; its Tag and
	// Reason are set once, by the first stage that blocks.
	var v Verdict

	// Step 1: Registry Guard.
	blockReason, registryFlags, driftLevel, regErr := f.checkRegistry(req, cfg)
	if regErr != nil {
		return f.internalError(cfg, "registry", regErr)
	}
	v.Flags = append(v.Flags, registryFlags...)
	v.DriftLevel = driftLevel
	if blockReason != "" {
		v.Tag, v.Reason = TagBlock, blockReason
		if cfg.ShortCircuit {
			return v, nil
		}
	}

	// Step 2: State Monitor.
	monReason, gasRemaining, detector, period, monErr := f.checkMonitor(req, fp)
	if monErr != nil {
		return f.internalError(cfg, "monitor", monErr)
	}
	v.GasRemaining, v.CycleDetector, v.CyclePeriod = gasRemaining, detector, period
	if monReason != "" {
		if v.Tag != TagBlock {
			v.Tag, v.Reason = TagBlock, monReason
		}
		if cfg.ShortCircuit {
			return v, nil
		}
	}

	// Step 3: Cognitive Council.
	councilResult, councilErr := f.checkCouncil(ctx, req, fp)
	if councilErr != nil {
		return f.internalError(cfg, "council", councilErr)
	}
	v.Flags = append(v.Flags, councilResult.Flags...)
	v.EvaluatorVotes = councilResult.Votes
	v.WaluigiScore = councilResult.WaluigiScore
	v.WaluigiMatches = len(councilResult.WaluigiMatches)
	if v.Tag != TagBlock {
		switch {
		case councilResult.WaluigiVetoed:
			v.Tag, v.Reason = TagBlock, ReasonWaluigiEffect
		case councilResult.Outcome == council.OutcomeBlock:
			v.Tag, v.Reason = TagBlock, ReasonCouncilRejected
		}
	}

	// Step 5: final aggregation. Any Block wins (already set above);
	// otherwise any accumulated flags make this a Review; otherwise Allow.
	if v.Tag == TagBlock {
		return v, nil
	}
	if len(v.Flags) > 0 {
		v.Tag = TagReview
		return v, nil
	}
	v.Tag = TagAllow
	return v, nil
}

// checkRegistry implements step 1: resolve the tool, classify drift, and
// compare against max_allowed_drift.
func (f *Facade) checkRegistry(req Request, cfg Config) (Reason, []council.Flag, registry.DriftLevel, error) {
	result, err := f.registry.Check(req.ToolName, req.ObservedSchema)
	if err != nil {
		return "", nil, registry.DriftNone, err
	}

	if !result.Known {
		if !cfg.AllowUnknownTools {
			return ReasonUnknownTool, nil, registry.DriftNone, nil
		}
		return "", []council.Flag{council.FlagNewTool}, registry.DriftNone, nil
	}

	if cfg.MaxAllowedDrift.Less(result.Drift) {
		return ReasonSchemaDrift, nil, result.Drift, nil
	}

	if result.Drift == registry.DriftMinor {
		return "", []council.Flag{council.FlagMinorDrift}, result.Drift, nil
	}
	return "", nil, result.Drift, nil
}

// checkMonitor implements step 2: begin_call against the State Monitor.
func (f *Facade) checkMonitor(req Request, fp monitor.Fingerprint) (Reason, uint64, string, int, error) {
	_, err := f.monitor.BeginCall(req.SessionID, fp, req.OpKind)
	if err == nil {
		snap, _ := f.monitor.Snapshot(req.SessionID)
		return "", snap.GasRemaining, "", 0, nil
	}

	switch err {
	case monitor.ErrGasExhausted:
		return ReasonGasExhausted, 0, "", 0, nil
	case monitor.ErrContextOverflow:
		return ReasonContextOverflow, 0, "", 0, nil
	case monitor.ErrCycleDetected:
		return ReasonCycleDetected, 0, "", 0, nil
	default:
		return "", 0, "", 0, err
	}
}

// checkCouncil implements step 3: evaluate the proposed action against the
// registered evaluator set and the Waluigi detector. The session's prior
// tool-history is translated into council.HistoryEntry values so the
// Logicist's contradiction check and the Waluigi reversal bonus can see
// whether this same tool was refused earlier in the session.
func (f *Facade) checkCouncil(ctx context.Context, req Request, fp monitor.Fingerprint) (council.Result, error) {
	history, reversed := f.sessionHistory(req.SessionID, req.ToolName, fp)
	ec := council.EvaluationContext{
		SessionID: req.SessionID,
		ToolName:  req.ToolName,
		OpKind:    string(req.OpKind),
		Arguments: req.Parameters,
		History:   history,
	}
	return f.council.Deliberate(ctx, ec, req.ResponseContent, reversed)
}

// sessionHistory builds the council's view of prior verdicts in this
// session and reports whether the most recent decision for toolName was a
// refusal (the Waluigi detector's reversal signal). currentFP identifies
// the call in progress: BeginCall appends a still-unmarked entry for it
// only when the monitor stage itself admits the call, so the in-flight
// entry is dropped only when it is actually present (the last entry's
// fingerprint matches currentFP), not unconditionally.
func (f *Facade) sessionHistory(sessionID, toolName string, currentFP monitor.Fingerprint) ([]council.HistoryEntry, bool) {
	snap, ok := f.monitor.Snapshot(sessionID)
	if !ok || len(snap.ToolHistory) == 0 {
		return nil, false
	}

	prior := snap.ToolHistory
	if last := prior[len(prior)-1]; last.Fingerprint == currentFP {
		prior = prior[:len(prior)-1]
	}

	history := make([]council.HistoryEntry, 0, len(prior))
	reversed := false
	for _, h := range prior {
		history = append(history, council.HistoryEntry{
			ToolName: h.Fingerprint.ToolName,
			Approved: h.Approved,
			Refused:  h.Refused,
			At:       h.Recorded,
		})
		if h.Fingerprint.ToolName == toolName {
			reversed = h.Refused
		}
	}
	return history, reversed
}

// recordAudit appends a best-effort audit record for a completed verdict.
// A nil auditor disables recording entirely.
func (f *Facade) recordAudit(req Request, requestID string, v Verdict) {
	if f.auditor == nil {
		return
	}
	reason := string(v.Reason)
	if reason == "" && len(v.Flags) > 0 {
		flags := make([]string, 0, len(v.Flags))
		for _, fl := range v.Flags {
			flags = append(flags, string(fl))
		}
		reason = flags[0]
		for _, fl := range flags[1:] {
			reason += "," + fl
		}
	}
	f.auditor.Record(audit.AuditRecord{
		Timestamp:     time.Now(),
		SessionID:     req.SessionID,
		ToolName:      req.ToolName,
		ToolArguments: req.Parameters,
		Decision:      string(v.Tag),
		Reason:        reason,
		RequestID:     requestID,
	})
}

// internalError maps a stage failure to a Verdict per fail_closed, never
// letting an internal error escape the facade as a Go error.
func (f *Facade) internalError(cfg Config, stage string, err error) (Verdict, error) {
	if f.logger != nil {
		f.logger.Error("sentinel: internal error", "stage", stage, "error", err)
	}
	if cfg.FailClosed {
		return Verdict{Tag: TagBlock, Reason: ReasonInternalError}, nil
	}
	return Verdict{Tag: TagReview, Reason: ReasonInternalError}, nil
}
