package types

import (
	"strings"
	"time"
)

// MessageSource identifies the ingestion path a message arrived through
type MessageSource string

const (
	SourceSignaling MessageSource = "signaling" // telephony-signaled text message
	SourceChannel   MessageSource = "channel"   // agent chat over the duplex channel
	SourceREST      MessageSource = "rest"      // REST submission
)

// Message is a canonical, persisted chat message. MessageID is assigned by
// the persistence layer; client-local provisional identifiers are never
// stored and are reconciled away on the sender's side.
type Message struct {
	MessageID       string          `json:"messageId" dynamodbav:"MessageID"`
	ConversationKey ConversationKey `json:"conversationKey" dynamodbav:"ConversationKey"`
	From            string          `json:"from" dynamodbav:"From"`
	To              string          `json:"to" dynamodbav:"To"`
	Body            string          `json:"body" dynamodbav:"Body"`
	CreatedAt       time.Time       `json:"createdAt" dynamodbav:"CreatedAt"`
	Source          MessageSource   `json:"source" dynamodbav:"Source"`
	ReadAt          *time.Time      `json:"readAt,omitempty" dynamodbav:"ReadAt,omitempty"`
	Edited          bool            `json:"edited" dynamodbav:"Edited"`

	// ProvisionalID echoes the sender's client-local id so the sender can
	// replace its optimistic echo with this canonical message. Never persisted.
	ProvisionalID string `json:"provisionalId,omitempty" dynamodbav:"-"`
}

// ConversationKey identifies the unordered pair of agents a message belongs
// to. Either ordering of the two agents resolves to the same key.
type ConversationKey string

// NewConversationKey canonicalizes an agent pair into a conversation identity
func NewConversationKey(agentA, agentB string) ConversationKey {
	if agentA > agentB {
		agentA, agentB = agentB, agentA
	}
	return ConversationKey(agentA + "|" + agentB)
}

// Partners returns the two agent ids the key was built from
func (k ConversationKey) Partners() (string, string) {
	parts := strings.SplitN(string(k), "|", 2)
	if len(parts) != 2 {
		return string(k), ""
	}
	return parts[0], parts[1]
}

// ConversationSummary is one entry in an agent's conversation list, ordered
// most-recently-active first
type ConversationSummary struct {
	PartnerID     string    `json:"partnerId"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadCount   int       `json:"unreadCount"`
}
