package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tessfa-ye/callcenter-livechat/internal/auth"
	"github.com/tessfa-ye/callcenter-livechat/internal/chat"
	"github.com/tessfa-ye/callcenter-livechat/internal/dispatch"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

// MessagesHandler exposes the chat relay over REST. Mutating operations run
// through the caller's inbox so they serialize with that agent's channel
// traffic.
type MessagesHandler struct {
	relay      *chat.Relay
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger
}

// NewMessagesHandler creates the REST messaging handler
func NewMessagesHandler(relay *chat.Relay, dispatcher *dispatch.Dispatcher, logger zerolog.Logger) *MessagesHandler {
	return &MessagesHandler{
		relay:      relay,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// ListConversations handles GET /api/conversations
func (h *MessagesHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	summaries, err := h.relay.Conversations(r.Context(), claims.AgentID)
	if err != nil {
		respondError(w, err)
		return
	}
	if summaries == nil {
		summaries = []types.ConversationSummary{}
	}
	respondJSON(w, http.StatusOK, summaries)
}

// GetHistory handles GET /api/conversations/{partnerId}/messages
func (h *MessagesHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	partnerID := chi.URLParam(r, "partnerId")
	if partnerID == "" {
		http.Error(w, "partnerId is required", http.StatusBadRequest)
		return
	}

	msgs, err := h.relay.History(r.Context(), claims.AgentID, partnerID)
	if err != nil {
		respondError(w, err)
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

type submitMessageRequest struct {
	To            string `json:"to"`
	Body          string `json:"body"`
	ProvisionalID string `json:"provisionalId,omitempty"`
}

// SubmitMessage handles POST /api/messages. The submission funnels into the
// same ingest path as channel frames, so dedup and fan-out behave
// identically.
func (h *MessagesHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req submitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var msg types.Message
	var delivered bool
	err := h.dispatcher.Do(r.Context(), claims.AgentID, "rest_message", func() error {
		var err error
		msg, delivered, err = h.relay.Ingest(r.Context(), types.SourceREST, claims.AgentID, req.To, req.Body, req.ProvisionalID)
		return err
	})
	if err != nil {
		respondError(w, err)
		return
	}

	if !delivered {
		respondJSON(w, http.StatusOK, map[string]any{"duplicate": true})
		return
	}
	msg.ProvisionalID = req.ProvisionalID
	respondJSON(w, http.StatusCreated, msg)
}

// MarkRead handles POST /api/conversations/{partnerId}/read
func (h *MessagesHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	partnerID := chi.URLParam(r, "partnerId")
	if partnerID == "" {
		http.Error(w, "partnerId is required", http.StatusBadRequest)
		return
	}

	var count int
	var at time.Time
	err := h.dispatcher.Do(r.Context(), claims.AgentID, "mark_read", func() error {
		readAt, n, err := h.relay.MarkRead(r.Context(), claims.AgentID, partnerID)
		count, at = n, readAt
		return err
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"updated": count,
		"readAt":  at,
	})
}

type editMessageRequest struct {
	Body string `json:"body"`
}

// EditMessage handles PATCH /api/messages/{messageId}
func (h *MessagesHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	messageID := chi.URLParam(r, "messageId")

	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var msg types.Message
	err := h.dispatcher.Do(r.Context(), claims.AgentID, "edit_message", func() error {
		var err error
		msg, err = h.relay.Edit(r.Context(), claims.AgentID, messageID, req.Body)
		return err
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

// DeleteMessage handles DELETE /api/messages/{messageId}
func (h *MessagesHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	messageID := chi.URLParam(r, "messageId")

	err := h.dispatcher.Do(r.Context(), claims.AgentID, "delete_message", func() error {
		return h.relay.Delete(r.Context(), claims.AgentID, messageID)
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": messageID})
}
