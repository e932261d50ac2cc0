package session

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tessfa-ye/callcenter-livechat/internal/metrics"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

// Registry maintains at most one live connection per agent. A new
// registration for an agent that is already connected supersedes the old
// connection: the old one is told to stop reconnecting and closed, and the
// agent's server-side state carries over untouched.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client

	logger zerolog.Logger
}

// NewRegistry creates an empty session registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		logger:  logger.With().Str("component", "session").Logger(),
	}
}

// Register accepts a new connection for the agent. The returned bool reports
// whether an existing connection was superseded, in which case the agent
// never left the online set.
func (r *Registry) Register(client *Client) bool {
	r.mu.Lock()
	existing, superseded := r.clients[client.agentID]
	r.clients[client.agentID] = client
	r.mu.Unlock()

	metrics.Get().RecordConnect()

	if superseded {
		// Tell the old connection to give up before closing it, so its
		// client does not fight the new session with reconnect attempts
		if data, err := json.Marshal(types.ForceDisconnectEvent{
			Type:    types.EventForceDisconnect,
			AgentID: client.agentID,
			Reason:  "superseded by a newer connection",
		}); err == nil {
			existing.safeSend(data)
		}
		existing.Close()
		metrics.Get().RecordSupersession()

		r.logger.Info().
			Str("agent_id", client.agentID).
			Msg("existing connection superseded")
	}

	return superseded
}

// Unregister removes the client if it is still the agent's current
// connection. A superseded connection unregistering later is a no-op; the
// returned bool reports whether the agent actually went offline.
func (r *Registry) Unregister(client *Client) bool {
	r.mu.Lock()
	current, ok := r.clients[client.agentID]
	if ok && current == client {
		delete(r.clients, client.agentID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	client.Close()
	metrics.Get().RecordDisconnect()

	if ok {
		r.logger.Debug().Str("agent_id", client.agentID).Msg("agent disconnected")
	}
	return ok
}

// SendEvent marshals and queues an event for one agent. Returns false when
// the agent has no live connection or its send buffer is full; the event is
// dropped either way and the agent catches up from the store on reconnect.
func (r *Registry) SendEvent(agentID string, event any) bool {
	r.mu.RLock()
	client, ok := r.clients[agentID]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal event")
		return false
	}
	return client.safeSend(data)
}

// Broadcast queues an event for every connected agent
func (r *Registry) Broadcast(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal broadcast")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, client := range r.clients {
		client.safeSend(data)
	}
}

// ForceDisconnect tells the agent's connection to stop reconnecting and
// closes it. The pump teardown then runs the normal disconnect path, so the
// agent goes offline exactly as if it had hung up itself.
func (r *Registry) ForceDisconnect(agentID, reason string) bool {
	r.mu.RLock()
	client, ok := r.clients[agentID]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	if data, err := json.Marshal(types.ForceDisconnectEvent{
		Type:    types.EventForceDisconnect,
		AgentID: agentID,
		Reason:  reason,
	}); err == nil {
		client.safeSend(data)
	}
	client.Close()

	r.logger.Info().Str("agent_id", agentID).Str("reason", reason).Msg("agent force-disconnected")
	return true
}

// IsConnected reports whether the agent has a live connection
func (r *Registry) IsConnected(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[agentID]
	return ok
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
