package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rs/zerolog"

	"github.com/tessfa-ye/callcenter-livechat/internal/auth"
	"github.com/tessfa-ye/callcenter-livechat/internal/call"
	"github.com/tessfa-ye/callcenter-livechat/internal/presence"
	"github.com/tessfa-ye/callcenter-livechat/internal/session"
)

// AdminHandler serves supervisor dashboards
type AdminHandler struct {
	presence *presence.Synchronizer
	registry *session.Registry
	calls    *call.Manager
	logger   zerolog.Logger
}

// NewAdminHandler creates the admin handler
func NewAdminHandler(presence *presence.Synchronizer, registry *session.Registry, calls *call.Manager, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		presence: presence,
		registry: registry,
		calls:    calls,
		logger:   logger.With().Str("component", "admin").Logger(),
	}
}

// RequireAdmin rejects requests whose token lacks an admin or supervisor role
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFrom(r.Context())
		if !ok || (claims.Role != "admin" && claims.Role != "supervisor") {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stats handles GET /api/admin/stats. The online count uses the same
// predicate as the agent directory, so a status change can never make the
// two disagree.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	online, err := h.presence.OnlineCount(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	total, err := h.presence.KnownAgentCount(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{
		"totalAgents":       total,
		"onlineAgents":      online,
		"offlineAgents":     total - online,
		"connectedSessions": h.registry.Count(),
		"activeCalls":       h.calls.ActiveSessionCount(),
	})
}

// ForceLogout handles POST /api/admin/agents/{agentId}/logout. The
// connection teardown runs the normal disconnect path, taking the agent
// offline.
func (h *AdminHandler) ForceLogout(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		http.Error(w, "agentId is required", http.StatusBadRequest)
		return
	}

	if !h.registry.ForceDisconnect(agentID, "logged out by an administrator") {
		http.Error(w, "agent not connected", http.StatusNotFound)
		return
	}

	h.logger.Info().Str("agent_id", agentID).Msg("force-logged-out agent via API")
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "agent logged out",
		"agentId": agentID,
	})
}
