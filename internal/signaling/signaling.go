package signaling

import (
	"context"
	"time"
)

// Commander is the outbound half of the telephony signaling collaborator.
// Every method is a confirm-or-reject round trip: a nil return means the
// signaling layer accepted the command, an error means it was rejected and
// the caller must not commit any local state change.
type Commander interface {
	// PlaceInvite starts an outbound call leg from one agent to a remote party
	PlaceInvite(ctx context.Context, from, to, legID string) error

	// AcceptInvite answers a ringing inbound leg
	AcceptInvite(ctx context.Context, agentID, legID string) error

	// Terminate ends a leg in any state
	Terminate(ctx context.Context, agentID, legID string) error

	// SetHold places a connected leg on hold or resumes a held one
	SetHold(ctx context.Context, agentID, legID string, hold bool) error

	// SendText delivers a text message through the telephony layer
	SendText(ctx context.Context, from, to, body string) error
}

// EventKind identifies an inbound signaling event
type EventKind string

const (
	EventInviteReceived EventKind = "inviteReceived"
	EventCallAccepted   EventKind = "callAccepted"
	EventCallTerminated EventKind = "callTerminated"
	EventHoldConfirmed  EventKind = "holdConfirmed"
	EventTextMessage    EventKind = "textMessageReceived"
)

// Event is an inbound signaling event targeted at one agent's state machine
type Event struct {
	Kind    EventKind
	AgentID string // the agent whose state machine must react
	Peer    string // remote party: caller for invites, sender for texts
	LegID   string
	Held    bool   // holdConfirmed only
	Body    string // textMessageReceived only
	At      time.Time
}

// Signaler combines the outbound command surface with the inbound event
// stream of a telephony backend
type Signaler interface {
	Commander

	// Events returns the stream of inbound signaling events. The channel is
	// closed when the signaler shuts down.
	Events() <-chan Event
}
