package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/monitor"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/proxy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/sentinel"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/upstream"
)

// ErrSentinelBlocked is returned when the Sentinel Facade's verdict blocks
// the action (schema drift, cycle detection, gas exhaustion, council
// rejection, Waluigi veto, or the kill switch).
var ErrSentinelBlocked = errors.New("action blocked by sentinel gate")

// opKindForAction maps a CanonicalAction's type to the gas schedule the
// State Monitor charges against.
func opKindForAction(t ActionType) monitor.OpKind {
	switch t {
	case ActionFileAccess:
		return monitor.OpWrite
	case ActionCommandExec:
		return monitor.OpTool
	case ActionSampling:
		return monitor.OpInference
	case ActionHTTPRequest, ActionWebSocketMessage, ActionNetworkConnect:
		return monitor.OpNetwork
	default:
		return monitor.OpTool
	}
}

// SentinelInterceptor evaluates a CanonicalAction against the Sentinel
// Facade -- the Registry Guard, State Monitor, and Cognitive Council,
// combined into one verdict -- ahead of response content scanning and
// policy evaluation. It sits at the front of the interceptor chain, the
// same position proxy's auth interceptor occupies, since every later
// stage depends on the session and call having already been admitted.
type SentinelInterceptor struct {
	facade    *sentinel.Facade
	toolCache *upstream.ToolCache
	next      ActionInterceptor
	logger    *slog.Logger
}

// Compile-time check that SentinelInterceptor implements ActionInterceptor.
var _ ActionInterceptor = (*SentinelInterceptor)(nil)

// NewSentinelInterceptor creates a new SentinelInterceptor. toolCache
// resolves a tool's currently discovered input schema for the Registry
// Guard's drift check; a nil toolCache (or a tool absent from it) leaves
// ObservedSchema nil, which matches no registered schema: a registered tool
// classifies as Major drift, and an unregistered one is Unknown.
func NewSentinelInterceptor(facade *sentinel.Facade, toolCache *upstream.ToolCache, next ActionInterceptor, logger *slog.Logger) *SentinelInterceptor {
	return &SentinelInterceptor{facade: facade, toolCache: toolCache, next: next, logger: logger}
}

// observedSchema resolves toolName's currently discovered input schema from
// the tool cache, decoded into the generic map/slice/primitive shape
// canon.Canonicalize expects. Returns nil if the tool is not cached, has no
// schema, or its schema fails to decode (logged, not fatal: the Registry
// Guard canonicalizes a nil schema as null, so it never matches a
// registered schema).
func (s *SentinelInterceptor) observedSchema(toolName string) interface{} {
	if s.toolCache == nil {
		return nil
	}
	tool, ok := s.toolCache.GetTool(toolName)
	if !ok || len(tool.InputSchema) == 0 {
		return nil
	}
	var schema interface{}
	if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
		s.logger.Warn("sentinel: failed to decode cached tool schema", "tool", toolName, "error", err)
		return nil
	}
	return schema
}

// Intercept translates the CanonicalAction into a sentinel.Request, asks
// the facade for a verdict, and either blocks the action or forwards it.
// Review-tagged verdicts are logged and passed through; the council's
// finer-grained review workflow (human approval, etc.) is out of scope
// for this gate and left to downstream interceptors.
func (s *SentinelInterceptor) Intercept(ctx context.Context, a *CanonicalAction) (*CanonicalAction, error) {
	if a.Type != ActionToolCall {
		return s.next.Intercept(ctx, a)
	}

	if a.Identity.SessionID == "" {
		s.logger.Warn("action without session context", "type", a.Type)
		return nil, proxy.ErrMissingSession
	}

	req := sentinel.Request{
		SessionID:      a.Identity.SessionID,
		ToolName:       a.Name,
		ObservedSchema: s.observedSchema(a.Name),
		Parameters:     a.Arguments,
		OpKind:         opKindForAction(a.Type),
	}

	verdict, err := s.facade.Evaluate(ctx, req)
	if err != nil {
		s.logger.Error("sentinel evaluation failed", "error", err, "tool", a.Name, "session_id", a.Identity.SessionID)
		return nil, fmt.Errorf("sentinel evaluation error: %w", err)
	}

	fields := []interface{}{
		"tool", a.Name,
		"session_id", a.Identity.SessionID,
		"tag", string(verdict.Tag),
	}
	if verdict.Reason != "" {
		fields = append(fields, "reason", string(verdict.Reason))
	}

	if verdict.IsBlock() {
		s.logger.Warn("sentinel blocked action", fields...)
		return nil, fmt.Errorf("%w: %s", ErrSentinelBlocked, verdict.Reason)
	}
	if verdict.Tag == sentinel.TagReview {
		s.logger.Info("sentinel flagged action for review", append(fields, "flags", verdict.Flags)...)
	} else {
		s.logger.Debug("sentinel allowed action", fields...)
	}

	return s.next.Intercept(ctx, a)
}
