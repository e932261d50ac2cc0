package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

// Store is the persistence collaborator for messages and presence. The
// in-memory implementation backs tests and single-node deployments; SQLite
// and DynamoDB back durable deployments.
type Store interface {
	// CreateMessage persists a message and assigns its canonical MessageID
	CreateMessage(ctx context.Context, msg types.Message) (types.Message, error)

	// GetMessage retrieves a single message by canonical id
	GetMessage(ctx context.Context, messageID string) (types.Message, error)

	// FindMessagesByConversation returns all messages for a conversation,
	// ordered by creation time ascending
	FindMessagesByConversation(ctx context.Context, key types.ConversationKey) ([]types.Message, error)

	// ListConversations returns one summary per conversation the agent is
	// part of, most recently active first, with unread counts from the
	// agent's point of view
	ListConversations(ctx context.Context, agentID string) ([]types.ConversationSummary, error)

	// MarkMessagesRead stamps readAt on every unread message from one agent
	// to another and returns how many were updated. Idempotent.
	MarkMessagesRead(ctx context.Context, from, to string, at time.Time) (int, error)

	// EditMessage replaces the body of a message and sets its edited flag.
	// From, To and CreatedAt are never touched.
	EditMessage(ctx context.Context, messageID, newBody string) (types.Message, error)

	// DeleteMessage removes a message from the persisted log
	DeleteMessage(ctx context.Context, messageID string) error

	// UpsertPresence writes the authoritative presence record for an agent
	UpsertPresence(ctx context.Context, state types.PresenceState) error

	// ReadPresence returns the persisted presence record for an agent
	ReadPresence(ctx context.Context, agentID string) (types.PresenceState, error)

	// ListAgentsByPresence returns all agents whose status is in the given set
	ListAgentsByPresence(ctx context.Context, statuses []types.PresenceStatus) ([]types.PresenceState, error)

	// Close releases any underlying resources
	Close() error
}

// NewStore creates the appropriate store based on configuration
func NewStore(ctx context.Context, mode, sqlitePath string, logger zerolog.Logger) (Store, error) {
	switch mode {
	case "sqlite":
		return NewSQLiteStore(sqlitePath, logger)
	case "dynamo":
		return NewDynamoDBStore(ctx, LoadDynamoConfig(), logger)
	default:
		logger.Info().Msg("using in-memory store (STORAGE_MODE=memory)")
		return NewMemoryStore(), nil
	}
}
