package types

import "time"

// CallState represents the lifecycle state of an agent's call session
type CallState string

const (
	CallStateIdle      CallState = "idle"
	CallStateCalling   CallState = "calling"   // outbound leg ringing at the remote side
	CallStateIncoming  CallState = "incoming"  // inbound leg ringing at the agent
	CallStateConnected CallState = "connected" // active leg established
	CallStateHeld      CallState = "held"      // active leg on hold, no second leg
	CallStateEnded     CallState = "ended"     // transient, auto-transitions to idle
)

// CallDirection distinguishes who initiated a leg
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// LegState represents the state of a single call leg
type LegState string

const (
	LegCalling   LegState = "calling"
	LegRinging   LegState = "ringing"
	LegConnected LegState = "connected"
	LegHeld      LegState = "held"
)

// CallLeg is one side of a voice call from one agent's perspective. An agent
// holds at most one active and one held leg at any time (call waiting).
type CallLeg struct {
	LegID         string        `json:"legId"`
	RemoteParty   string        `json:"remoteParty"`
	Direction     CallDirection `json:"direction"`
	State         LegState      `json:"state"`
	EstablishedAt time.Time     `json:"establishedAt,omitempty"`
}

// CallSnapshot is the externally visible view of one agent's call session,
// pushed to the agent's channel after every transition
type CallSnapshot struct {
	AgentID string    `json:"agentId"`
	State   CallState `json:"state"`
	Active  *CallLeg  `json:"active,omitempty"`
	Held    *CallLeg  `json:"held,omitempty"`
}
