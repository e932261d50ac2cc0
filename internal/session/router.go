package session

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/tessfa-ye/callcenter-livechat/internal/call"
	"github.com/tessfa-ye/callcenter-livechat/internal/chat"
	"github.com/tessfa-ye/callcenter-livechat/internal/dispatch"
	"github.com/tessfa-ye/callcenter-livechat/internal/presence"
	"github.com/tessfa-ye/callcenter-livechat/internal/signaling"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

// Router is the entry point that funnels every connection event, inbound
// frame and signaling event through the owning agent's inbox. Components
// behind it never dispatch themselves; serialization happens here or not at
// all.
type Router struct {
	dispatcher *dispatch.Dispatcher
	registry   *Registry
	presence   *presence.Synchronizer
	calls      *call.Manager
	relay      *chat.Relay
	logger     zerolog.Logger
}

// NewRouter wires the per-agent components behind the dispatch boundary
func NewRouter(dispatcher *dispatch.Dispatcher, registry *Registry, presence *presence.Synchronizer, calls *call.Manager, relay *chat.Relay, logger zerolog.Logger) *Router {
	return &Router{
		dispatcher: dispatcher,
		registry:   registry,
		presence:   presence,
		calls:      calls,
		relay:      relay,
		logger:     logger.With().Str("component", "router").Logger(),
	}
}

// Connected registers a new connection and brings the agent online. On a
// supersession the agent never left the online set, so no login transition
// fires; the fresh connection still gets its state preload.
func (r *Router) Connected(c *Client) {
	r.dispatcher.Post(c.agentID, "connect", func() error {
		ctx := context.Background()
		superseded := r.registry.Register(c)
		if !superseded {
			if err := r.presence.OnLogin(ctx, c.agentID); err != nil {
				r.logger.Error().Err(err).Str("agent_id", c.agentID).Msg("login transition failed")
			}
		}

		// Preload so a reconnecting agent catches up on missed messages
		if summaries, err := r.relay.Conversations(ctx, c.agentID); err == nil {
			r.registry.SendEvent(c.agentID, types.ConversationsEvent{
				Type:    types.EventConversations,
				Entries: summaries,
			})
		} else {
			r.logger.Warn().Err(err).Str("agent_id", c.agentID).Msg("conversation preload failed")
		}

		r.registry.SendEvent(c.agentID, types.CallStateEvent{
			Type:     types.EventCallState,
			Snapshot: r.calls.Snapshot(c.agentID),
		})
		return nil
	})
}

// Disconnected tears the agent down unless a newer connection superseded
// this one, in which case the agent state is left alone
func (r *Router) Disconnected(c *Client) {
	r.dispatcher.Post(c.agentID, "disconnect", func() error {
		ctx := context.Background()
		if !r.registry.Unregister(c) {
			return nil
		}

		r.calls.HandleDisconnect(ctx, c.agentID)
		if err := r.presence.OnLogout(ctx, c.agentID); err != nil {
			r.logger.Error().Err(err).Str("agent_id", c.agentID).Msg("logout transition failed")
		}
		return nil
	})
}

// Frame decodes one inbound frame and dispatches the operation it asks for
func (r *Router) Frame(c *Client, data []byte) {
	var envelope types.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		r.logger.Debug().Err(err).Str("agent_id", c.agentID).Msg("unparseable frame")
		return
	}

	agentID := c.agentID
	switch envelope.Type {
	case types.EventUpdateStatus:
		var ev types.UpdateStatusEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			r.sendError(agentID, envelope.Type, err)
			return
		}
		r.dispatcher.Post(agentID, envelope.Type, func() error {
			return r.reply(agentID, envelope.Type, r.presence.OnManualUpdate(context.Background(), agentID, ev.Status))
		})

	case types.EventSendMessage:
		var ev types.SendMessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			r.sendError(agentID, envelope.Type, err)
			return
		}
		r.dispatcher.Post(agentID, envelope.Type, func() error {
			_, _, err := r.relay.Ingest(context.Background(), types.SourceChannel, agentID, ev.To, ev.Body, ev.ProvisionalID)
			return r.reply(agentID, envelope.Type, err)
		})

	case types.EventCallPlace, types.EventCallAnswer, types.EventCallHangup, types.EventCallHold, types.EventCallSwap:
		var ev types.CallControlEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			r.sendError(agentID, envelope.Type, err)
			return
		}
		r.dispatcher.Post(agentID, envelope.Type, func() error {
			return r.reply(agentID, envelope.Type, r.callControl(agentID, ev))
		})

	default:
		r.logger.Debug().Str("type", envelope.Type).Str("agent_id", agentID).Msg("unknown frame type")
	}
}

func (r *Router) callControl(agentID string, ev types.CallControlEvent) error {
	ctx := context.Background()
	switch ev.Type {
	case types.EventCallPlace:
		return r.calls.PlaceCall(ctx, agentID, ev.Target)
	case types.EventCallAnswer:
		return r.calls.Answer(ctx, agentID)
	case types.EventCallHangup:
		return r.calls.Hangup(ctx, agentID)
	case types.EventCallHold:
		return r.calls.ToggleHold(ctx, agentID)
	case types.EventCallSwap:
		return r.calls.Swap(ctx, agentID)
	default:
		return nil
	}
}

// reply surfaces an operation failure to the requesting client and swallows
// the error so the inbox does not double-log it
func (r *Router) reply(agentID, op string, err error) error {
	if err != nil {
		r.sendError(agentID, op, err)
	}
	return nil
}

func (r *Router) sendError(agentID, op string, err error) {
	r.logger.Debug().Err(err).Str("agent_id", agentID).Str("op", op).Msg("operation rejected")
	r.registry.SendEvent(agentID, types.ErrorEvent{
		Type:    types.EventError,
		Op:      op,
		Code:    types.ErrorCode(err),
		Message: err.Error(),
	})
}

// RunSignaling consumes signaling events until the context is cancelled,
// dispatching each through the affected agent's inbox
func (r *Router) RunSignaling(ctx context.Context, events <-chan signaling.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.routeSignaling(ev)
		}
	}
}

func (r *Router) routeSignaling(ev signaling.Event) {
	switch ev.Kind {
	case signaling.EventInviteReceived:
		r.dispatcher.Post(ev.AgentID, string(ev.Kind), func() error {
			if err := r.calls.ReceiveInvite(context.Background(), ev.AgentID, ev.Peer, ev.LegID); err != nil {
				r.logger.Debug().Err(err).Str("agent_id", ev.AgentID).Msg("invite rejected")
			}
			return nil
		})

	case signaling.EventCallAccepted:
		r.dispatcher.Post(ev.AgentID, string(ev.Kind), func() error {
			r.calls.HandleAccepted(ev.AgentID, ev.LegID)
			return nil
		})

	case signaling.EventCallTerminated:
		r.dispatcher.Post(ev.AgentID, string(ev.Kind), func() error {
			return r.calls.HandleTerminated(context.Background(), ev.AgentID, ev.LegID)
		})

	case signaling.EventHoldConfirmed:
		r.dispatcher.Post(ev.AgentID, string(ev.Kind), func() error {
			r.calls.HandleHoldConfirmed(ev.AgentID, ev.LegID, ev.Held)
			return nil
		})

	case signaling.EventTextMessage:
		// Serialized on the sending side so the echo of a mirrored message
		// meets its original in dedup order
		r.dispatcher.Post(ev.Peer, string(ev.Kind), func() error {
			_, _, err := r.relay.Ingest(context.Background(), types.SourceSignaling, ev.Peer, ev.AgentID, ev.Body, "")
			if err != nil {
				r.logger.Warn().Err(err).Str("from", ev.Peer).Msg("signaling text ingest failed")
			}
			return nil
		})

	default:
		r.logger.Debug().Str("kind", string(ev.Kind)).Msg("unknown signaling event")
	}
}
