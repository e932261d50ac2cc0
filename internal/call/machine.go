package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tessfa-ye/callcenter-livechat/internal/signaling"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

// Machine is one agent's call session state machine. It owns at most one
// active and one held call leg. All methods must run on the agent's inbox;
// the machine itself carries no locks.
//
// The active slot holds whichever leg currently has the agent's attention
// (ringing, dialing or connected); the held slot only ever holds a leg that
// was parked for call waiting. Swap exchanges the two slots.
type Machine struct {
	agentID string
	state   types.CallState
	active  *types.CallLeg
	held    *types.CallLeg

	cmd signaling.Commander
}

// NewMachine creates an idle call session for one agent
func NewMachine(agentID string, cmd signaling.Commander) *Machine {
	return &Machine{
		agentID: agentID,
		state:   types.CallStateIdle,
		cmd:     cmd,
	}
}

// State returns the current session state
func (m *Machine) State() types.CallState { return m.state }

// Snapshot returns the externally visible view of the session
func (m *Machine) Snapshot() types.CallSnapshot {
	snap := types.CallSnapshot{
		AgentID: m.agentID,
		State:   m.state,
	}
	if m.active != nil {
		leg := *m.active
		snap.Active = &leg
	}
	if m.held != nil {
		leg := *m.held
		snap.Held = &leg
	}
	return snap
}

// PlaceCall starts an outbound call. Only legal from idle.
func (m *Machine) PlaceCall(ctx context.Context, target string) error {
	if m.state != types.CallStateIdle {
		return &types.InvalidTransitionError{Op: "placeCall", State: string(m.state)}
	}

	leg := &types.CallLeg{
		LegID:       uuid.New().String(),
		RemoteParty: target,
		Direction:   types.DirectionOutbound,
		State:       types.LegCalling,
	}

	if err := m.cmd.PlaceInvite(ctx, m.agentID, target, leg.LegID); err != nil {
		return &types.SignalingError{Op: "placeCall", Err: err}
	}

	m.active = leg
	m.state = types.CallStateCalling
	return nil
}

// ReceiveInvite surfaces an inbound ringing leg. From idle the session moves
// to incoming. With a connected active leg (call waiting) the active leg is
// parked in the held slot first and the invite still surfaces as incoming;
// the held leg is not disturbed. In every other shape the invite is rejected.
func (m *Machine) ReceiveInvite(ctx context.Context, caller, legID string) error {
	leg := &types.CallLeg{
		LegID:       legID,
		RemoteParty: caller,
		Direction:   types.DirectionInbound,
		State:       types.LegRinging,
	}

	switch {
	case m.state == types.CallStateIdle:
		m.active = leg
		m.state = types.CallStateIncoming
		return nil

	case m.state == types.CallStateConnected && m.held == nil:
		// Call waiting: park the connected leg before surfacing the invite
		if err := m.cmd.SetHold(ctx, m.agentID, m.active.LegID, true); err != nil {
			// Could not park the current call; reject the new one instead of
			// tearing anything down
			_ = m.cmd.Terminate(ctx, m.agentID, legID)
			return &types.SignalingError{Op: "receiveInvite", Err: err}
		}
		m.active.State = types.LegHeld
		m.held = m.active
		m.active = leg
		m.state = types.CallStateIncoming
		return nil

	default:
		_ = m.cmd.Terminate(ctx, m.agentID, legID)
		return &types.InvalidTransitionError{Op: "receiveInvite", State: string(m.state)}
	}
}

// Answer accepts the ringing incoming leg. A leg parked to make room stays
// held. On signaling failure the session stays in incoming.
func (m *Machine) Answer(ctx context.Context) error {
	if m.state != types.CallStateIncoming || m.active == nil {
		return &types.InvalidTransitionError{Op: "answer", State: string(m.state)}
	}

	if err := m.cmd.AcceptInvite(ctx, m.agentID, m.active.LegID); err != nil {
		return &types.SignalingError{Op: "answer", Err: err}
	}

	m.active.State = types.LegConnected
	m.active.EstablishedAt = time.Now().UTC()
	m.state = types.CallStateConnected
	return nil
}

// Hangup terminates whichever leg is active. A held leg, if present, is
// resumed and promoted to active; otherwise the session passes through ended
// back to idle.
func (m *Machine) Hangup(ctx context.Context) error {
	if m.active == nil {
		return &types.InvalidTransitionError{Op: "hangup", State: string(m.state)}
	}

	// Terminate is idempotent on the signaling side; a failure here means the
	// leg is already gone, so local cleanup proceeds either way.
	_ = m.cmd.Terminate(ctx, m.agentID, m.active.LegID)
	m.active = nil

	return m.settle(ctx)
}

// ToggleHold flips the connected session between held and connected. It only
// proceeds after the signaling layer confirms; on rejection the local state
// is unchanged.
func (m *Machine) ToggleHold(ctx context.Context) error {
	switch m.state {
	case types.CallStateConnected:
		if err := m.cmd.SetHold(ctx, m.agentID, m.active.LegID, true); err != nil {
			return &types.SignalingError{Op: "toggleHold", Err: err}
		}
		m.active.State = types.LegHeld
		m.state = types.CallStateHeld
		return nil

	case types.CallStateHeld:
		if err := m.cmd.SetHold(ctx, m.agentID, m.active.LegID, false); err != nil {
			return &types.SignalingError{Op: "toggleHold", Err: err}
		}
		m.active.State = types.LegConnected
		m.state = types.CallStateConnected
		return nil

	default:
		return &types.InvalidTransitionError{Op: "toggleHold", State: string(m.state)}
	}
}

// Swap exchanges which leg is active and which is held. Legal only when both
// slots are occupied and the active leg is connected. The whole exchange is
// one critical section on the agent's inbox; a failure on the second hold
// command rolls the first back.
func (m *Machine) Swap(ctx context.Context) error {
	if m.active == nil || m.held == nil || m.state != types.CallStateConnected {
		return &types.InvalidTransitionError{Op: "swap", State: string(m.state)}
	}

	if err := m.cmd.SetHold(ctx, m.agentID, m.active.LegID, true); err != nil {
		return &types.SignalingError{Op: "swap", Err: err}
	}
	if err := m.cmd.SetHold(ctx, m.agentID, m.held.LegID, false); err != nil {
		// Roll the first leg back so the pre-attempt shape is restored
		_ = m.cmd.SetHold(ctx, m.agentID, m.active.LegID, false)
		return &types.SignalingError{Op: "swap", Err: err}
	}

	m.active.State = types.LegHeld
	m.held.State = types.LegConnected
	m.active, m.held = m.held, m.active
	return nil
}

// HandleAccepted reconciles the remote side answering our outbound leg
func (m *Machine) HandleAccepted(legID string) {
	if m.active == nil || m.active.LegID != legID {
		// Stale acceptance for a leg we no longer track
		return
	}
	if m.state != types.CallStateCalling {
		return
	}
	m.active.State = types.LegConnected
	m.active.EstablishedAt = time.Now().UTC()
	m.state = types.CallStateConnected
}

// HandleTerminated reconciles the remote side ending a leg
func (m *Machine) HandleTerminated(ctx context.Context, legID string) error {
	switch {
	case m.active != nil && m.active.LegID == legID:
		m.active = nil
		return m.settle(ctx)

	case m.held != nil && m.held.LegID == legID:
		// Held leg died on its own (e.g. the far side disconnected)
		m.held = nil
		return nil

	default:
		return nil
	}
}

// HandleHoldConfirmed reconciles an asynchronous hold confirmation from the
// signaling layer with local state. Confirms for state already committed are
// no-ops; a disagreement means the commander's synchronous answer was wrong
// and the authoritative signaling event wins.
func (m *Machine) HandleHoldConfirmed(legID string, held bool) {
	leg := m.legByID(legID)
	if leg == nil {
		return
	}

	if held && leg.State == types.LegConnected {
		leg.State = types.LegHeld
		if leg == m.active && m.held == nil {
			m.state = types.CallStateHeld
		}
	} else if !held && leg.State == types.LegHeld && leg == m.active {
		leg.State = types.LegConnected
		m.state = types.CallStateConnected
	}
}

// HandleDisconnect tears down every leg after the agent's transport closed
func (m *Machine) HandleDisconnect(ctx context.Context) {
	if m.active == nil && m.held == nil {
		m.state = types.CallStateIdle
		return
	}
	if m.active != nil {
		_ = m.cmd.Terminate(ctx, m.agentID, m.active.LegID)
		m.active = nil
	}
	if m.held != nil {
		_ = m.cmd.Terminate(ctx, m.agentID, m.held.LegID)
		m.held = nil
	}
	m.state = types.CallStateEnded
}

// RingTimeout ends an incoming leg that was never answered. The legID guards
// against firing for a later call.
func (m *Machine) RingTimeout(ctx context.Context, legID string) error {
	if m.state != types.CallStateIncoming || m.active == nil || m.active.LegID != legID {
		return nil
	}
	_ = m.cmd.Terminate(ctx, m.agentID, m.active.LegID)
	m.active = nil
	return m.settle(ctx)
}

// settle decides the session shape after the active slot emptied: promote a
// held leg back to connected, or enter the transient ended state. The owner
// observes ended, broadcasts it, and immediately completes it to idle via
// CompleteEnded within the same inbox job.
func (m *Machine) settle(ctx context.Context) error {
	if m.held != nil {
		if err := m.cmd.SetHold(ctx, m.agentID, m.held.LegID, false); err != nil {
			// The held leg could not be resumed; drop it rather than leave a
			// zombie slot behind
			_ = m.cmd.Terminate(ctx, m.agentID, m.held.LegID)
			m.held = nil
			m.state = types.CallStateEnded
			return &types.SignalingError{Op: "resumeHeld", Err: err}
		}
		m.held.State = types.LegConnected
		m.active = m.held
		m.held = nil
		m.state = types.CallStateConnected
		return nil
	}

	m.state = types.CallStateEnded
	return nil
}

// CompleteEnded finishes the transient ended state. Always called right after
// a transition that entered it, once cleanup is done.
func (m *Machine) CompleteEnded() {
	if m.state == types.CallStateEnded {
		m.state = types.CallStateIdle
	}
}

func (m *Machine) legByID(legID string) *types.CallLeg {
	if m.active != nil && m.active.LegID == legID {
		return m.active
	}
	if m.held != nil && m.held.LegID == legID {
		return m.held
	}
	return nil
}
