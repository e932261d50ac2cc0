package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessfa-ye/callcenter-livechat/internal/auth"
	"github.com/tessfa-ye/callcenter-livechat/internal/call"
	"github.com/tessfa-ye/callcenter-livechat/internal/chat"
	"github.com/tessfa-ye/callcenter-livechat/internal/config"
	"github.com/tessfa-ye/callcenter-livechat/internal/dispatch"
	"github.com/tessfa-ye/callcenter-livechat/internal/events"
	"github.com/tessfa-ye/callcenter-livechat/internal/presence"
	"github.com/tessfa-ye/callcenter-livechat/internal/session"
	"github.com/tessfa-ye/callcenter-livechat/internal/signaling"
	"github.com/tessfa-ye/callcenter-livechat/internal/storage"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

const testSecret = "api-test-secret"

type apiFixture struct {
	router   http.Handler
	store    *storage.MemoryStore
	presence *presence.Synchronizer
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zerolog.Nop()

	store := storage.NewMemoryStore()
	registry := session.NewRegistry(logger)
	dispatcher := dispatch.NewDispatcher(logger)
	signaler := signaling.NewLoopback(logger)
	publisher := events.NewFallback(logger)

	sync := presence.NewSynchronizer(store, registry, publisher, logger)
	relay := chat.NewRelay(store, registry, signaler, publisher, 10*time.Second, 4096, logger)
	calls := call.NewManager(signaler, dispatcher, registry, publisher, time.Minute, logger)

	verifier, err := auth.NewVerifier(&config.Config{AuthMode: "secret", JWTSecret: testSecret}, logger)
	require.NoError(t, err)

	messages := NewMessagesHandler(relay, dispatcher, logger)
	directory := NewDirectoryHandler(sync, logger)
	admin := NewAdminHandler(sync, registry, calls, logger)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(verifier.Middleware)
		r.Route("/api", func(r chi.Router) {
			r.Get("/conversations", messages.ListConversations)
			r.Get("/conversations/{partnerId}/messages", messages.GetHistory)
			r.Post("/conversations/{partnerId}/read", messages.MarkRead)
			r.Post("/messages", messages.SubmitMessage)
			r.Patch("/messages/{messageId}", messages.EditMessage)
			r.Delete("/messages/{messageId}", messages.DeleteMessage)
			r.Get("/agents/online", directory.OnlineAgents)
			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/admin/stats", admin.Stats)
				r.Post("/admin/agents/{agentId}/logout", admin.ForceLogout)
			})
		})
	})

	return &apiFixture{router: r, store: store, presence: sync}
}

func token(t *testing.T, agentID, role string) string {
	t.Helper()
	claims := auth.Claims{
		AgentID: agentID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (f *apiFixture) do(t *testing.T, method, path, agentID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if agentID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, agentID, role))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestRequestWithoutTokenRejected(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/conversations", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitMessage(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/messages", "alice", "agent", map[string]string{
		"to": "bob", "body": "hello from rest", "provisionalId": "tmp-7",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg types.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.NotEmpty(t, msg.MessageID)
	assert.Equal(t, "alice", msg.From)
	assert.Equal(t, "tmp-7", msg.ProvisionalID)

	// The same payload resubmitted inside the window is absorbed
	rec = f.do(t, http.MethodPost, "/api/messages", "alice", "agent", map[string]string{
		"to": "bob", "body": "hello from rest",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var dup map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dup))
	assert.Equal(t, true, dup["duplicate"])
}

func TestSubmitMessageValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/messages", "alice", "agent", map[string]string{
		"to": "bob", "body": "",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/messages", "alice", "agent", map[string]string{
		"to": "alice", "body": "note to self",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationListAndHistory(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/messages", "alice", "agent", map[string]string{"to": "bob", "body": "one"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/messages", "bob", "agent", map[string]string{"to": "alice", "body": "two"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/conversations", "bob", "agent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []types.ConversationSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "alice", summaries[0].PartnerID)
	assert.Equal(t, 1, summaries[0].UnreadCount)

	rec = f.do(t, http.MethodGet, "/api/conversations/alice/messages", "bob", "agent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []types.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Equal(t, "one", history[0].Body)
	assert.Equal(t, "two", history[1].Body)
}

func TestMarkRead(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/messages", "alice", "agent", map[string]string{"to": "bob", "body": "unread"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/conversations/alice/read", "bob", "agent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, float64(1), result["updated"])

	// Idempotent: nothing left to stamp
	rec = f.do(t, http.MethodPost, "/api/conversations/alice/read", "bob", "agent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, float64(0), result["updated"])
}

func TestEditAndDeleteOwnership(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/messages", "alice", "agent", map[string]string{"to": "bob", "body": "draft"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var msg types.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))

	// Only the sender may edit
	rec = f.do(t, http.MethodPatch, "/api/messages/"+msg.MessageID, "bob", "agent", map[string]string{"body": "hijack"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/messages/"+msg.MessageID, "alice", "agent", map[string]string{"body": "final"})
	require.Equal(t, http.StatusOK, rec.Code)
	var edited types.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edited))
	assert.Equal(t, "final", edited.Body)
	assert.True(t, edited.Edited)

	rec = f.do(t, http.MethodDelete, "/api/messages/"+msg.MessageID, "bob", "agent", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/messages/"+msg.MessageID, "alice", "agent", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/messages/"+msg.MessageID, "alice", "agent", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOnlineDirectory(t *testing.T) {
	f := newAPIFixture(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	require.NoError(t, f.presence.OnLogin(ctx, "alice"))
	require.NoError(t, f.presence.OnLogin(ctx, "bob"))
	require.NoError(t, f.presence.OnManualUpdate(ctx, "bob", types.StatusAway))
	require.NoError(t, f.presence.OnLogin(ctx, "carol"))
	require.NoError(t, f.presence.OnLogout(ctx, "carol"))

	rec := f.do(t, http.MethodGet, "/api/agents/online", "alice", "agent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var states []types.PresenceState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	ids := make([]string, len(states))
	for i, st := range states {
		ids[i] = st.AgentID
	}
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)
}

func TestAdminStats(t *testing.T) {
	f := newAPIFixture(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	require.NoError(t, f.presence.OnLogin(ctx, "alice"))

	// Agents cannot read supervisor dashboards
	rec := f.do(t, http.MethodGet, "/api/admin/stats", "alice", "agent", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/admin/stats", "boss", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats["totalAgents"])
	assert.Equal(t, 1, stats["onlineAgents"])
	assert.Equal(t, 0, stats["offlineAgents"])
	assert.Equal(t, 0, stats["connectedSessions"])
	assert.Equal(t, 0, stats["activeCalls"])
}

func TestForceLogoutUnknownAgent(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/admin/agents/ghost/logout", "boss", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
