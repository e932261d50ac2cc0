package call

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tessfa-ye/callcenter-livechat/internal/dispatch"
	"github.com/tessfa-ye/callcenter-livechat/internal/events"
	"github.com/tessfa-ye/callcenter-livechat/internal/metrics"
	"github.com/tessfa-ye/callcenter-livechat/internal/signaling"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

// Sender delivers an event to one agent's live channel, if connected
type Sender interface {
	SendEvent(agentID string, event any) bool
}

// Manager owns the call session machines for all agents. Public methods must
// run on the owning agent's inbox; the manager dispatches only its own timer
// callbacks.
type Manager struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	// active holds the agents with a non-idle session. Written only by
	// inbox-run code paths, so readers never race a machine's fields.
	active map[string]struct{}

	cmd         signaling.Commander
	dispatcher  *dispatch.Dispatcher
	sender      Sender
	publisher   events.Publisher
	ringTimeout time.Duration
	logger      zerolog.Logger
}

// NewManager creates an empty call manager
func NewManager(cmd signaling.Commander, dispatcher *dispatch.Dispatcher, sender Sender, publisher events.Publisher, ringTimeout time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		machines:    make(map[string]*Machine),
		active:      make(map[string]struct{}),
		cmd:         cmd,
		dispatcher:  dispatcher,
		sender:      sender,
		publisher:   publisher,
		ringTimeout: ringTimeout,
		logger:      logger.With().Str("component", "call").Logger(),
	}
}

func (mgr *Manager) machine(agentID string) *Machine {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	m, ok := mgr.machines[agentID]
	if !ok {
		m = NewMachine(agentID, mgr.cmd)
		mgr.machines[agentID] = m
	}
	return m
}

// Snapshot returns the current session view for one agent
func (mgr *Manager) Snapshot(agentID string) types.CallSnapshot {
	return mgr.machine(agentID).Snapshot()
}

// ActiveSessionCount returns how many agents currently have a non-idle call
// session. Used by the admin stats endpoint.
func (mgr *Manager) ActiveSessionCount() int {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return len(mgr.active)
}

// track records whether the machine's agent belongs to the active set.
// Must run on the agent's inbox.
func (mgr *Manager) track(m *Machine) {
	idle := m.State() == types.CallStateIdle
	mgr.mu.Lock()
	if idle {
		delete(mgr.active, m.agentID)
	} else {
		mgr.active[m.agentID] = struct{}{}
	}
	mgr.mu.Unlock()
}

// export publishes a call lifecycle event; failures never affect the call
func (mgr *Manager) export(ctx context.Context, kind, agentID string, snap types.CallSnapshot) {
	if err := mgr.publisher.Publish(ctx, kind, events.Envelope{
		Kind:    kind,
		AgentID: agentID,
		Payload: snap,
	}); err != nil {
		mgr.logger.Warn().Err(err).Str("agent_id", agentID).Str("kind", kind).Msg("call event publish failed")
	}
}

// push sends the agent its current snapshot, completing a transient ended
// state with a second snapshot so the client sees ended before idle
func (mgr *Manager) push(m *Machine) {
	mgr.sender.SendEvent(m.agentID, types.CallStateEvent{Type: types.EventCallState, Snapshot: m.Snapshot()})
	if m.State() == types.CallStateEnded {
		mgr.export(context.Background(), events.KindCallEnded, m.agentID, m.Snapshot())
		m.CompleteEnded()
		mgr.sender.SendEvent(m.agentID, types.CallStateEvent{Type: types.EventCallState, Snapshot: m.Snapshot()})
	}
	mgr.track(m)
}

// PlaceCall starts an outbound call for the agent
func (mgr *Manager) PlaceCall(ctx context.Context, agentID, target string) error {
	m := mgr.machine(agentID)
	if err := m.PlaceCall(ctx, target); err != nil {
		return err
	}
	metrics.Get().RecordCallPlaced()
	mgr.logger.Info().Str("agent_id", agentID).Str("target", target).Msg("call placed")
	mgr.export(ctx, events.KindCallPlaced, agentID, m.Snapshot())
	mgr.push(m)
	return nil
}

// Answer accepts the agent's ringing incoming leg and fires the low-latency
// call:answered signal at the caller, ahead of the authoritative signaling
// confirmation the caller's own machine will receive
func (mgr *Manager) Answer(ctx context.Context, agentID string) error {
	m := mgr.machine(agentID)
	if err := m.Answer(ctx); err != nil {
		return err
	}
	metrics.Get().RecordCallAnswered()

	if snap := m.Snapshot(); snap.Active != nil {
		mgr.sender.SendEvent(snap.Active.RemoteParty, types.CallAnsweredEvent{
			Type: types.EventCallAnswered,
			From: agentID,
		})
	}
	mgr.export(ctx, events.KindCallAnswered, agentID, m.Snapshot())
	mgr.push(m)
	return nil
}

// Hangup ends the agent's active leg, promoting a held leg if one exists
func (mgr *Manager) Hangup(ctx context.Context, agentID string) error {
	m := mgr.machine(agentID)
	err := m.Hangup(ctx)
	mgr.push(m)
	return err
}

// ToggleHold flips the agent's connected session between held and connected
func (mgr *Manager) ToggleHold(ctx context.Context, agentID string) error {
	m := mgr.machine(agentID)
	if err := m.ToggleHold(ctx); err != nil {
		return err
	}
	mgr.push(m)
	return nil
}

// Swap exchanges the agent's active and held legs
func (mgr *Manager) Swap(ctx context.Context, agentID string) error {
	m := mgr.machine(agentID)
	if err := m.Swap(ctx); err != nil {
		return err
	}
	mgr.push(m)
	return nil
}

// ReceiveInvite routes an inbound invite to the agent's machine and arms the
// ring timeout for the new leg
func (mgr *Manager) ReceiveInvite(ctx context.Context, agentID, caller, legID string) error {
	m := mgr.machine(agentID)
	if err := m.ReceiveInvite(ctx, caller, legID); err != nil {
		return err
	}

	// The timeout callback re-enters through the agent's inbox; a stale
	// fire is a no-op because the leg id no longer matches.
	time.AfterFunc(mgr.ringTimeout, func() {
		mgr.dispatcher.Post(agentID, "ring_timeout", func() error {
			fired := m.State() == types.CallStateIncoming
			err := m.RingTimeout(context.Background(), legID)
			if fired && m.State() != types.CallStateIncoming {
				metrics.Get().RecordRingTimeout()
				mgr.logger.Info().Str("agent_id", agentID).Str("leg_id", legID).Msg("incoming call timed out")
			}
			mgr.push(m)
			return err
		})
	})

	mgr.push(m)
	return nil
}

// HandleAccepted reconciles a remote accept of the agent's outbound leg
func (mgr *Manager) HandleAccepted(agentID, legID string) {
	m := mgr.machine(agentID)
	m.HandleAccepted(legID)
	mgr.push(m)
}

// HandleTerminated reconciles a remote hangup of one of the agent's legs
func (mgr *Manager) HandleTerminated(ctx context.Context, agentID, legID string) error {
	m := mgr.machine(agentID)
	err := m.HandleTerminated(ctx, legID)
	mgr.push(m)
	return err
}

// HandleHoldConfirmed reconciles an asynchronous hold confirmation
func (mgr *Manager) HandleHoldConfirmed(agentID, legID string, held bool) {
	m := mgr.machine(agentID)
	m.HandleHoldConfirmed(legID, held)
	mgr.push(m)
}

// HandleDisconnect ends all of the agent's legs after its transport closed
func (mgr *Manager) HandleDisconnect(ctx context.Context, agentID string) {
	m := mgr.machine(agentID)
	m.HandleDisconnect(ctx)
	if m.State() == types.CallStateEnded {
		mgr.export(ctx, events.KindCallEnded, agentID, m.Snapshot())
		m.CompleteEnded()
	}
	mgr.track(m)
	mgr.logger.Debug().Str("agent_id", agentID).Msg("call session cleaned up after disconnect")
}
