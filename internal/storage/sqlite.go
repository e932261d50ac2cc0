package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite-backed store
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for better concurrency
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		conversation_key TEXT NOT NULL,
		from_agent TEXT NOT NULL,
		to_agent TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		source TEXT NOT NULL,
		read_at INTEGER,
		edited INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_key, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(to_agent) WHERE read_at IS NULL;

	CREATE TABLE IF NOT EXISTS presence (
		agent_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		last_transition_at INTEGER NOT NULL,
		last_transition_reason TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	msg.MessageID = uuid.New().String()
	msg.ProvisionalID = ""
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (message_id, conversation_key, from_agent, to_agent, body, created_at, source, read_at, edited)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 0)`,
		msg.MessageID, string(msg.ConversationKey), msg.From, msg.To, msg.Body,
		msg.CreatedAt.UnixMilli(), string(msg.Source))
	if err != nil {
		return types.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (types.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT message_id, conversation_key, from_agent, to_agent, body, created_at, source, read_at, edited
		FROM messages WHERE message_id = ?`, messageID)
	return scanMessage(row)
}

func (s *SQLiteStore) FindMessagesByConversation(ctx context.Context, key types.ConversationKey) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, conversation_key, from_agent, to_agent, body, created_at, source, read_at, edited
		FROM messages WHERE conversation_key = ? ORDER BY created_at ASC`, string(key))
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListConversations(ctx context.Context, agentID string) ([]types.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.conversation_key,
		       m.from_agent,
		       m.to_agent,
		       m.body,
		       m.created_at,
		       (SELECT COUNT(*) FROM messages u
		        WHERE u.conversation_key = m.conversation_key
		          AND u.to_agent = ? AND u.read_at IS NULL) AS unread
		FROM messages m
		INNER JOIN (
			SELECT conversation_key, MAX(created_at) AS max_created
			FROM messages
			WHERE from_agent = ? OR to_agent = ?
			GROUP BY conversation_key
		) last ON last.conversation_key = m.conversation_key AND last.max_created = m.created_at
		ORDER BY m.created_at DESC`,
		agentID, agentID, agentID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []types.ConversationSummary
	for rows.Next() {
		var key, from, to, body string
		var createdAt int64
		var unread int
		if err := rows.Scan(&key, &from, &to, &body, &createdAt, &unread); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		partner := from
		if partner == agentID {
			partner = to
		}
		out = append(out, types.ConversationSummary{
			PartnerID:     partner,
			LastMessage:   body,
			LastMessageAt: time.UnixMilli(createdAt).UTC(),
			UnreadCount:   unread,
		})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, from, to string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read_at = ?
		WHERE from_agent = ? AND to_agent = ? AND read_at IS NULL`,
		at.UnixMilli(), from, to)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) EditMessage(ctx context.Context, messageID, newBody string) (types.Message, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET body = ?, edited = 1 WHERE message_id = ?`, newBody, messageID)
	if err != nil {
		return types.Message{}, fmt.Errorf("edit message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.Message{}, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return types.Message{}, types.ErrNotFound
	}
	return s.GetMessage(ctx, messageID)
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpsertPresence(ctx context.Context, state types.PresenceState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO presence (agent_id, status, last_transition_at, last_transition_reason)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			status = excluded.status,
			last_transition_at = excluded.last_transition_at,
			last_transition_reason = excluded.last_transition_reason`,
		state.AgentID, string(state.Status), state.LastTransitionAt.UnixMilli(), string(state.LastTransitionReason))
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadPresence(ctx context.Context, agentID string) (types.PresenceState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, status, last_transition_at, last_transition_reason
		FROM presence WHERE agent_id = ?`, agentID)

	var state types.PresenceState
	var status, reason string
	var at int64
	if err := row.Scan(&state.AgentID, &status, &at, &reason); err != nil {
		if err == sql.ErrNoRows {
			return types.PresenceState{}, types.ErrNotFound
		}
		return types.PresenceState{}, fmt.Errorf("read presence: %w", err)
	}
	state.Status = types.PresenceStatus(status)
	state.LastTransitionAt = time.UnixMilli(at).UTC()
	state.LastTransitionReason = types.TransitionReason(reason)
	return state, nil
}

func (s *SQLiteStore) ListAgentsByPresence(ctx context.Context, statuses []types.PresenceStatus) ([]types.PresenceState, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query := `SELECT agent_id, status, last_transition_at, last_transition_reason FROM presence WHERE status IN (?`
	args := []any{string(statuses[0])}
	for _, st := range statuses[1:] {
		query += ", ?"
		args = append(args, string(st))
	}
	query += `) ORDER BY agent_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents by presence: %w", err)
	}
	defer rows.Close()

	var out []types.PresenceState
	for rows.Next() {
		var state types.PresenceState
		var status, reason string
		var at int64
		if err := rows.Scan(&state.AgentID, &status, &at, &reason); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		state.Status = types.PresenceStatus(status)
		state.LastTransitionAt = time.UnixMilli(at).UTC()
		state.LastTransitionReason = types.TransitionReason(reason)
		out = append(out, state)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (types.Message, error) {
	var msg types.Message
	var key, source string
	var createdAt int64
	var readAt sql.NullInt64
	var edited int

	err := row.Scan(&msg.MessageID, &key, &msg.From, &msg.To, &msg.Body, &createdAt, &source, &readAt, &edited)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.Message{}, types.ErrNotFound
		}
		return types.Message{}, fmt.Errorf("scan message: %w", err)
	}

	msg.ConversationKey = types.ConversationKey(key)
	msg.CreatedAt = time.UnixMilli(createdAt).UTC()
	msg.Source = types.MessageSource(source)
	msg.Edited = edited != 0
	if readAt.Valid {
		t := time.UnixMilli(readAt.Int64).UTC()
		msg.ReadAt = &t
	}
	return msg, nil
}
