package types

import "time"

// Wire event names shared by the duplex channel in both directions. Every
// frame is a JSON object with a "type" field naming the event.
const (
	// Client to server
	EventUpdateStatus = "updateStatus"
	EventSendMessage  = "sendMessage"
	EventCallPlace    = "call:place"
	EventCallAnswer   = "call:answer"
	EventCallHangup   = "call:hangup"
	EventCallHold     = "call:hold"
	EventCallSwap     = "call:swap"

	// Server to client
	EventStatusUpdate    = "agent:status_update"
	EventReceiveMessage  = "receiveMessage"
	EventMessageEdited   = "message:edited"
	EventMessageDeleted  = "message:deleted"
	EventMessagesRead    = "messages:read"
	EventCallAnswered    = "call:answered"
	EventCallState       = "call:state"
	EventConversations   = "conversations"
	EventError           = "error"
	EventForceDisconnect = "force_disconnect"
)

// Envelope is the minimal frame used to sniff the event type before
// decoding the full payload
type Envelope struct {
	Type string `json:"type"`
}

// UpdateStatusEvent is sent by a client to change its own presence
type UpdateStatusEvent struct {
	Type   string         `json:"type"` // "updateStatus"
	Status PresenceStatus `json:"status"`
}

// SendMessageEvent is sent by a client to chat with another agent
type SendMessageEvent struct {
	Type          string `json:"type"` // "sendMessage"
	To            string `json:"to"`
	Body          string `json:"body"`
	ProvisionalID string `json:"provisionalId,omitempty"`
}

// CallControlEvent covers the call operations a client can request.
// Target is only meaningful for call:place.
type CallControlEvent struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
}

// StatusUpdateEvent is broadcast to every session on a presence transition.
// A login or logout changes set membership, so consumers must re-fetch the
// online-agent list instead of patching incrementally.
type StatusUpdateEvent struct {
	Type    string         `json:"type"` // "agent:status_update"
	AgentID string         `json:"agentId"`
	Status  PresenceStatus `json:"status"`
	Action  PresenceAction `json:"action"`
}

// ReceiveMessageEvent delivers a canonical message to a connected agent
type ReceiveMessageEvent struct {
	Type    string  `json:"type"` // "receiveMessage" | "message:edited"
	Message Message `json:"message"`
}

// MessageDeletedEvent notifies both parties that a message was removed
type MessageDeletedEvent struct {
	Type            string          `json:"type"` // "message:deleted"
	MessageID       string          `json:"messageId"`
	ConversationKey ConversationKey `json:"conversationKey"`
}

// MessagesReadEvent notifies the partner that their messages were read
type MessagesReadEvent struct {
	Type      string    `json:"type"` // "messages:read"
	PartnerID string    `json:"partnerId"`
	ReadAt    time.Time `json:"readAt"`
}

// CallAnsweredEvent is the low-latency UI sync signal sent to the caller the
// moment the callee answers, independent of the signaling-layer acceptance
type CallAnsweredEvent struct {
	Type string `json:"type"` // "call:answered"
	From string `json:"from"`
}

// CallStateEvent pushes the authoritative call session snapshot after every
// transition
type CallStateEvent struct {
	Type     string       `json:"type"` // "call:state"
	Snapshot CallSnapshot `json:"snapshot"`
}

// ConversationsEvent preloads the conversation list on connect so a
// reconnecting agent catches up on missed messages
type ConversationsEvent struct {
	Type    string                `json:"type"` // "conversations"
	Entries []ConversationSummary `json:"entries"`
}

// ErrorEvent surfaces a failed operation to the requesting client
type ErrorEvent struct {
	Type    string `json:"type"` // "error"
	Op      string `json:"op"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ForceDisconnectEvent tells a superseded or force-logged-out connection to
// stop reconnecting; any credential held for this agent must be invalidated
type ForceDisconnectEvent struct {
	Type    string `json:"type"` // "force_disconnect"
	AgentID string `json:"agentId"`
	Reason  string `json:"reason,omitempty"`
}
