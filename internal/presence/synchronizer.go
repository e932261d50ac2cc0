package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tessfa-ye/callcenter-livechat/internal/events"
	"github.com/tessfa-ye/callcenter-livechat/internal/metrics"
	"github.com/tessfa-ye/callcenter-livechat/internal/storage"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

// Broadcaster pushes an event to every connected agent
type Broadcaster interface {
	Broadcast(event any)
}

// Synchronizer owns presence transitions. The persisted record is
// authoritative; the in-memory cache only avoids a store round trip on reads
// and is rebuilt from writes as they happen. Transition methods must run on
// the owning agent's inbox.
type Synchronizer struct {
	store     storage.Store
	broadcast Broadcaster
	publisher events.Publisher
	logger    zerolog.Logger

	mu    sync.RWMutex
	cache map[string]types.PresenceState
}

// NewSynchronizer creates a presence synchronizer
func NewSynchronizer(store storage.Store, broadcast Broadcaster, publisher events.Publisher, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		store:     store,
		broadcast: broadcast,
		publisher: publisher,
		logger:    logger.With().Str("component", "presence").Logger(),
		cache:     make(map[string]types.PresenceState),
	}
}

// OnLogin marks the agent available after its session was registered
func (s *Synchronizer) OnLogin(ctx context.Context, agentID string) error {
	return s.apply(ctx, agentID, types.StatusAvailable, types.ReasonLogin, types.ActionLogin)
}

// OnLogout marks the agent offline after its session unregistered
func (s *Synchronizer) OnLogout(ctx context.Context, agentID string) error {
	return s.apply(ctx, agentID, types.StatusOffline, types.ReasonLogout, types.ActionLogout)
}

// OnManualUpdate applies a status the agent picked itself. Offline cannot be
// chosen manually; it is only reachable through disconnect.
func (s *Synchronizer) OnManualUpdate(ctx context.Context, agentID string, status types.PresenceStatus) error {
	if !status.IsManuallySettable() {
		return &types.InvalidTransitionError{Op: "updateStatus", State: string(status)}
	}
	return s.apply(ctx, agentID, status, types.ReasonManual, types.ActionUpdate)
}

func (s *Synchronizer) apply(ctx context.Context, agentID string, status types.PresenceStatus, reason types.TransitionReason, action types.PresenceAction) error {
	state := types.PresenceState{
		AgentID:              agentID,
		Status:               status,
		LastTransitionAt:     time.Now().UTC(),
		LastTransitionReason: reason,
	}

	// One retry before giving up; the cache and broadcast only happen after
	// the write landed so readers never see a transition the store lost
	err := s.store.UpsertPresence(ctx, state)
	if err != nil {
		s.logger.Warn().Err(err).Str("agent_id", agentID).Msg("presence write failed, retrying")
		err = s.store.UpsertPresence(ctx, state)
	}
	if err != nil {
		return &types.PersistenceError{Op: "upsertPresence", Err: err}
	}

	s.mu.Lock()
	s.cache[agentID] = state
	byStatus := make(map[types.PresenceStatus]int)
	for _, st := range s.cache {
		byStatus[st.Status]++
	}
	s.mu.Unlock()
	metrics.Get().UpdatePresenceStats(byStatus)

	s.logger.Info().
		Str("agent_id", agentID).
		Str("status", string(status)).
		Str("reason", string(reason)).
		Msg("presence transition")

	s.broadcast.Broadcast(types.StatusUpdateEvent{
		Type:    types.EventStatusUpdate,
		AgentID: agentID,
		Status:  status,
		Action:  action,
	})

	if err := s.publisher.Publish(ctx, events.KindPresenceChanged, events.Envelope{
		Kind:    events.KindPresenceChanged,
		AgentID: agentID,
		Payload: state,
	}); err != nil {
		// Export is best effort; the transition already committed
		s.logger.Warn().Err(err).Str("agent_id", agentID).Msg("presence event publish failed")
	}

	return nil
}

// Status returns the agent's current status, offline when never seen
func (s *Synchronizer) Status(ctx context.Context, agentID string) types.PresenceStatus {
	s.mu.RLock()
	state, ok := s.cache[agentID]
	s.mu.RUnlock()
	if ok {
		return state.Status
	}

	persisted, err := s.store.ReadPresence(ctx, agentID)
	if err != nil {
		return types.StatusOffline
	}
	return persisted.Status
}

// OnlineAgents returns every agent currently counted as online
func (s *Synchronizer) OnlineAgents(ctx context.Context) ([]types.PresenceState, error) {
	states, err := s.store.ListAgentsByPresence(ctx, types.OnlineStatuses)
	if err != nil {
		return nil, &types.PersistenceError{Op: "listAgentsByPresence", Err: err}
	}
	return states, nil
}

// OnlineCount returns the size of the online set
func (s *Synchronizer) OnlineCount(ctx context.Context) (int, error) {
	states, err := s.OnlineAgents(ctx)
	if err != nil {
		return 0, err
	}
	return len(states), nil
}

// KnownAgentCount returns how many agents have a persisted presence record,
// online or not
func (s *Synchronizer) KnownAgentCount(ctx context.Context) (int, error) {
	all := append([]types.PresenceStatus{types.StatusOffline}, types.OnlineStatuses...)
	states, err := s.store.ListAgentsByPresence(ctx, all)
	if err != nil {
		return 0, &types.PersistenceError{Op: "listAgentsByPresence", Err: err}
	}
	return len(states), nil
}
