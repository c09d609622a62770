package admin

import (
	"net/http"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/sentinel"
)

// WithSentinelFacade sets the Sentinel Facade.
func WithSentinelFacade(f *sentinel.Facade) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.sentinelFacade = f }
}

// SetSentinelFacade sets the Sentinel Facade after construction. This is
// needed because the facade is built during BOOT-07 (interceptor chain
// construction), after the AdminAPIHandler already exists, the same
// ordering gap SetOutboundAdminService bridges.
func (h *AdminAPIHandler) SetSentinelFacade(f *sentinel.Facade) {
	h.sentinelFacade = f
}

// handleSentinelRegistry lists every tool registered with the Registry
// Guard alongside the registry's current Merkle root.
// GET /admin/api/v1/sentinel/registry
func (h *AdminAPIHandler) handleSentinelRegistry(w http.ResponseWriter, r *http.Request) {
	if h.sentinelFacade == nil {
		h.respondError(w, http.StatusServiceUnavailable, "sentinel facade not available")
		return
	}

	guard := h.sentinelFacade.Registry()
	tools := guard.All()

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"root":  guard.Root().String(),
		"tools": tools,
	})
}

// handleSentinelSession returns the State Monitor's current view of one
// session: gas remaining, call depth, context bytes, and tool history.
// GET /admin/api/v1/sentinel/sessions/{session_id}
func (h *AdminAPIHandler) handleSentinelSession(w http.ResponseWriter, r *http.Request) {
	if h.sentinelFacade == nil {
		h.respondError(w, http.StatusServiceUnavailable, "sentinel facade not available")
		return
	}

	sessionID := r.PathValue("session_id")
	snap, ok := h.sentinelFacade.Monitor().Snapshot(sessionID)
	if !ok {
		h.respondError(w, http.StatusNotFound, "session not found")
		return
	}

	h.respondJSON(w, http.StatusOK, snap)
}

// handleSentinelEvaluators lists the Cognitive Council's registered
// evaluator set, for operator visibility into which evaluators a verdict
// was deliberated against.
// GET /admin/api/v1/sentinel/evaluators
func (h *AdminAPIHandler) handleSentinelEvaluators(w http.ResponseWriter, r *http.Request) {
	if h.sentinelFacade == nil {
		h.respondError(w, http.StatusServiceUnavailable, "sentinel facade not available")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"evaluators": h.sentinelFacade.Council().EvaluatorNames(),
	})
}
