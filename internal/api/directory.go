package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tessfa-ye/callcenter-livechat/internal/presence"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

// DirectoryHandler serves the online-agent directory
type DirectoryHandler struct {
	presence *presence.Synchronizer
	logger   zerolog.Logger
}

// NewDirectoryHandler creates the directory handler
func NewDirectoryHandler(presence *presence.Synchronizer, logger zerolog.Logger) *DirectoryHandler {
	return &DirectoryHandler{
		presence: presence,
		logger:   logger.With().Str("component", "directory").Logger(),
	}
}

// OnlineAgents handles GET /api/agents/online. Membership follows the same
// predicate the admin stats count uses.
func (h *DirectoryHandler) OnlineAgents(w http.ResponseWriter, r *http.Request) {
	states, err := h.presence.OnlineAgents(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if states == nil {
		states = []types.PresenceState{}
	}
	respondJSON(w, http.StatusOK, states)
}
