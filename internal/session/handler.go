package session

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tessfa-ye/callcenter-livechat/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Cross-origin is handled by the auth token, not the Origin header
		return true
	},
}

// Handler authenticates and upgrades agent WebSocket connections
type Handler struct {
	verifier *auth.Verifier
	sink     Sink
	tuning   Tuning
	logger   zerolog.Logger
}

// NewHandler creates a connection handler
func NewHandler(verifier *auth.Verifier, sink Sink, tuning Tuning, logger zerolog.Logger) *Handler {
	return &Handler{
		verifier: verifier,
		sink:     sink,
		tuning:   tuning,
		logger:   logger.With().Str("component", "session").Logger(),
	}
}

// ServeHTTP authenticates the request, upgrades it and starts the pumps.
// An invalid credential refuses the upgrade; no session is created.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verifier.Authenticate(r)
	if err != nil {
		h.logger.Debug().Err(err).Msg("connection refused")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(claims.AgentID, conn, h.sink, h.tuning, h.logger)
	h.sink.Connected(client)
	client.Start()
}
