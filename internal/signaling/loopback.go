package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Loopback is an in-process signaler that connects agents registered on the
// same node to each other. It backs local development and the test suite;
// transport negotiation with a real telephony switch stays behind the same
// Commander contract.
type Loopback struct {
	mu     sync.Mutex
	pairs  map[string]pairing // legID -> the other side
	events chan Event
	logger zerolog.Logger
}

type pairing struct {
	agentID   string // owner of this leg
	peerAgent string
	peerLeg   string
}

// NewLoopback creates a loopback signaler
func NewLoopback(logger zerolog.Logger) *Loopback {
	return &Loopback{
		pairs:  make(map[string]pairing),
		events: make(chan Event, 256),
		logger: logger.With().Str("component", "signaling").Logger(),
	}
}

// Events returns the inbound event stream
func (l *Loopback) Events() <-chan Event {
	return l.events
}

func (l *Loopback) emit(ev Event) {
	ev.At = time.Now().UTC()
	select {
	case l.events <- ev:
	default:
		l.logger.Warn().
			Str("kind", string(ev.Kind)).
			Str("agent_id", ev.AgentID).
			Msg("signaling event buffer full, dropping event")
	}
}

func (l *Loopback) PlaceInvite(_ context.Context, from, to, legID string) error {
	if from == to {
		return fmt.Errorf("cannot place a call to self")
	}

	calleeLeg := uuid.New().String()

	l.mu.Lock()
	l.pairs[legID] = pairing{agentID: from, peerAgent: to, peerLeg: calleeLeg}
	l.pairs[calleeLeg] = pairing{agentID: to, peerAgent: from, peerLeg: legID}
	l.mu.Unlock()

	l.emit(Event{Kind: EventInviteReceived, AgentID: to, Peer: from, LegID: calleeLeg})
	return nil
}

func (l *Loopback) AcceptInvite(_ context.Context, agentID, legID string) error {
	l.mu.Lock()
	pair, ok := l.pairs[legID]
	l.mu.Unlock()

	if !ok || pair.agentID != agentID {
		return fmt.Errorf("unknown leg %s for agent %s", legID, agentID)
	}

	l.emit(Event{Kind: EventCallAccepted, AgentID: pair.peerAgent, Peer: agentID, LegID: pair.peerLeg})
	return nil
}

func (l *Loopback) Terminate(_ context.Context, agentID, legID string) error {
	l.mu.Lock()
	pair, ok := l.pairs[legID]
	if ok {
		delete(l.pairs, legID)
		delete(l.pairs, pair.peerLeg)
	}
	l.mu.Unlock()

	if !ok {
		// Terminating an already-gone leg is not an error; hangup must be
		// idempotent across both sides racing to end the call.
		return nil
	}

	l.emit(Event{Kind: EventCallTerminated, AgentID: pair.peerAgent, Peer: agentID, LegID: pair.peerLeg})
	return nil
}

func (l *Loopback) SetHold(_ context.Context, agentID, legID string, hold bool) error {
	l.mu.Lock()
	pair, ok := l.pairs[legID]
	l.mu.Unlock()

	if !ok || pair.agentID != agentID {
		return fmt.Errorf("unknown leg %s for agent %s", legID, agentID)
	}

	l.emit(Event{Kind: EventHoldConfirmed, AgentID: agentID, LegID: legID, Held: hold})
	return nil
}

func (l *Loopback) SendText(_ context.Context, from, to, body string) error {
	// The telephony side echoes texts back as inbound events; the message
	// relay's dedup window absorbs the echo for messages it already persisted.
	l.emit(Event{Kind: EventTextMessage, AgentID: to, Peer: from, Body: body})
	return nil
}
