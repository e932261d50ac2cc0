package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/tessfa-ye/callcenter-livechat/internal/events"
	"github.com/tessfa-ye/callcenter-livechat/internal/metrics"
	"github.com/tessfa-ye/callcenter-livechat/internal/signaling"
	"github.com/tessfa-ye/callcenter-livechat/internal/storage"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

// Validation errors surfaced to the submitting client
var (
	ErrEmptyBody       = errors.New("message body is empty")
	ErrBodyTooLarge    = errors.New("message body exceeds the size limit")
	ErrSelfMessage     = errors.New("cannot message yourself")
	ErrNotMessageOwner = errors.New("only the sender may modify a message")
)

// Sender delivers an event to one agent's live channel, if connected
type Sender interface {
	SendEvent(agentID string, event any) bool
}

// Relay is the single ingest point for chat messages. Every path a message
// can arrive on (a client frame, a signaling text, a REST submit) funnels
// through Ingest, which dedups, persists exactly once and fans out to both
// parties. Ingest for a given sender must run on that sender's inbox.
type Relay struct {
	store     storage.Store
	sender    Sender
	cmd       signaling.Commander
	publisher events.Publisher
	dedup     *dedupIndex
	logger    zerolog.Logger

	maxBodySize int
}

// NewRelay creates a message relay with the given dedup window
func NewRelay(store storage.Store, sender Sender, cmd signaling.Commander, publisher events.Publisher, dedupWindow time.Duration, maxBodySize int, logger zerolog.Logger) *Relay {
	return &Relay{
		store:       store,
		sender:      sender,
		cmd:         cmd,
		publisher:   publisher,
		dedup:       newDedupIndex(dedupWindow),
		logger:      logger.With().Str("component", "chat").Logger(),
		maxBodySize: maxBodySize,
	}
}

// Ingest accepts one message delivery. The returned bool is false when the
// delivery was absorbed as a duplicate of an earlier one; the message value
// is only meaningful when it is true.
func (r *Relay) Ingest(ctx context.Context, source types.MessageSource, from, to, body, provisionalID string) (types.Message, bool, error) {
	if body == "" {
		return types.Message{}, false, ErrEmptyBody
	}
	if r.maxBodySize > 0 && len(body) > r.maxBodySize {
		return types.Message{}, false, ErrBodyTooLarge
	}
	if from == to {
		return types.Message{}, false, ErrSelfMessage
	}

	metrics.Get().RecordMessageIngested(source)

	now := time.Now().UTC()
	if r.dedup.observe(from, to, body, now) {
		metrics.Get().RecordMessageDeduped()
		r.logger.Debug().
			Str("from", from).
			Str("to", to).
			Str("source", string(source)).
			Msg("duplicate delivery absorbed")
		return types.Message{}, false, nil
	}

	msg := types.Message{
		ConversationKey: types.NewConversationKey(from, to),
		From:            from,
		To:              to,
		Body:            body,
		CreatedAt:       now,
		Source:          source,
	}

	stored, err := r.store.CreateMessage(ctx, msg)
	if err != nil {
		r.logger.Warn().Err(err).Str("from", from).Msg("message write failed, retrying")
		stored, err = r.store.CreateMessage(ctx, msg)
	}
	if err != nil {
		// The message was never persisted; drop its dedup entry so a
		// retry is not absorbed as a duplicate
		r.dedup.forget(from, to, body)
		metrics.Get().RecordMessageError()
		return types.Message{}, false, &types.PersistenceError{Op: "createMessage", Err: err}
	}
	metrics.Get().RecordMessageStored()

	// Recipient gets the canonical message; the sender's copy carries the
	// provisional id back so its optimistic entry can be replaced in place
	r.sender.SendEvent(to, types.ReceiveMessageEvent{Type: types.EventReceiveMessage, Message: stored})
	echo := stored
	echo.ProvisionalID = provisionalID
	r.sender.SendEvent(from, types.ReceiveMessageEvent{Type: types.EventReceiveMessage, Message: echo})

	// Mirror non-signaling sends onto the signaling layer; its echo of the
	// same (from, to, body) lands back in Ingest and is absorbed above
	if source != types.SourceSignaling {
		if err := r.cmd.SendText(ctx, from, to, body); err != nil {
			r.logger.Warn().Err(err).Str("from", from).Str("to", to).Msg("signaling mirror failed")
		}
	}

	if err := r.publisher.Publish(ctx, events.KindMessageStored, events.Envelope{
		Kind:    events.KindMessageStored,
		AgentID: from,
		Payload: stored,
	}); err != nil {
		r.logger.Warn().Err(err).Msg("message event publish failed")
	}

	return stored, true, nil
}

// MarkRead stamps every unread message the partner sent to the reader and
// notifies the partner. Calling it again with nothing unread is a no-op.
func (r *Relay) MarkRead(ctx context.Context, reader, partner string) (time.Time, int, error) {
	at := time.Now().UTC()
	count, err := r.store.MarkMessagesRead(ctx, partner, reader, at)
	if err != nil {
		return time.Time{}, 0, &types.PersistenceError{Op: "markMessagesRead", Err: err}
	}
	if count > 0 {
		r.sender.SendEvent(partner, types.MessagesReadEvent{
			Type:      types.EventMessagesRead,
			PartnerID: reader,
			ReadAt:    at,
		})
	}
	return at, count, nil
}

// Edit replaces a message body. Only the original sender may edit, and only
// by canonical id; provisional ids never reach this path.
func (r *Relay) Edit(ctx context.Context, editor, messageID, newBody string) (types.Message, error) {
	if newBody == "" {
		return types.Message{}, ErrEmptyBody
	}
	if r.maxBodySize > 0 && len(newBody) > r.maxBodySize {
		return types.Message{}, ErrBodyTooLarge
	}

	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return types.Message{}, err
	}
	if msg.From != editor {
		return types.Message{}, ErrNotMessageOwner
	}

	updated, err := r.store.EditMessage(ctx, messageID, newBody)
	if err != nil {
		return types.Message{}, &types.PersistenceError{Op: "editMessage", Err: err}
	}

	event := types.ReceiveMessageEvent{Type: types.EventMessageEdited, Message: updated}
	r.sender.SendEvent(updated.To, event)
	r.sender.SendEvent(updated.From, event)
	return updated, nil
}

// Delete removes a message. Only the original sender may delete.
func (r *Relay) Delete(ctx context.Context, requester, messageID string) error {
	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.From != requester {
		return ErrNotMessageOwner
	}

	if err := r.store.DeleteMessage(ctx, messageID); err != nil {
		return &types.PersistenceError{Op: "deleteMessage", Err: err}
	}

	event := types.MessageDeletedEvent{
		Type:            types.EventMessageDeleted,
		MessageID:       messageID,
		ConversationKey: msg.ConversationKey,
	}
	r.sender.SendEvent(msg.To, event)
	r.sender.SendEvent(msg.From, event)
	return nil
}

// Conversations returns the agent's conversation summaries, newest first
func (r *Relay) Conversations(ctx context.Context, agentID string) ([]types.ConversationSummary, error) {
	summaries, err := r.store.ListConversations(ctx, agentID)
	if err != nil {
		return nil, &types.PersistenceError{Op: "listConversations", Err: err}
	}
	return summaries, nil
}

// History returns the full message log between two agents, oldest first
func (r *Relay) History(ctx context.Context, a, b string) ([]types.Message, error) {
	msgs, err := r.store.FindMessagesByConversation(ctx, types.NewConversationKey(a, b))
	if err != nil {
		return nil, &types.PersistenceError{Op: "findMessages", Err: err}
	}
	return msgs, nil
}
