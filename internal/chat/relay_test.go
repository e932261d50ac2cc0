package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessfa-ye/callcenter-livechat/internal/events"
	"github.com/tessfa-ye/callcenter-livechat/internal/storage"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

type sentEvent struct {
	agentID string
	event   any
}

type fakeSender struct {
	mu     sync.Mutex
	events []sentEvent
}

func (f *fakeSender) SendEvent(agentID string, event any) bool {
	f.mu.Lock()
	f.events = append(f.events, sentEvent{agentID: agentID, event: event})
	f.mu.Unlock()
	return true
}

func (f *fakeSender) messagesFor(agentID string) []types.ReceiveMessageEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.ReceiveMessageEvent
	for _, e := range f.events {
		if e.agentID != agentID {
			continue
		}
		if ev, ok := e.event.(types.ReceiveMessageEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeSender) eventsFor(agentID string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.events {
		if e.agentID == agentID {
			out = append(out, e.event)
		}
	}
	return out
}

// textRecorder captures signaling mirror sends
type textRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (t *textRecorder) PlaceInvite(ctx context.Context, from, to, legID string) error { return nil }
func (t *textRecorder) AcceptInvite(ctx context.Context, agentID, legID string) error { return nil }
func (t *textRecorder) Terminate(ctx context.Context, agentID, legID string) error    { return nil }
func (t *textRecorder) SetHold(ctx context.Context, agentID, legID string, hold bool) error {
	return nil
}

func (t *textRecorder) SendText(ctx context.Context, from, to, body string) error {
	t.mu.Lock()
	t.texts = append(t.texts, body)
	t.mu.Unlock()
	return nil
}

func (t *textRecorder) sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.texts...)
}

func newTestRelay(store storage.Store) (*Relay, *fakeSender, *textRecorder) {
	logger := zerolog.Nop()
	sender := &fakeSender{}
	cmd := &textRecorder{}
	relay := NewRelay(store, sender, cmd, events.NewFallback(logger), 10*time.Second, 4096, logger)
	return relay, sender, cmd
}

func TestIngestPersistsAndFansOut(t *testing.T) {
	store := storage.NewMemoryStore()
	relay, sender, _ := newTestRelay(store)

	msg, delivered, err := relay.Ingest(context.Background(), types.SourceChannel, "alice", "bob", "hi bob", "tmp-1")
	require.NoError(t, err)
	require.True(t, delivered)
	assert.NotEmpty(t, msg.MessageID)
	assert.Equal(t, types.NewConversationKey("alice", "bob"), msg.ConversationKey)

	history, err := store.FindMessagesByConversation(context.Background(), msg.ConversationKey)
	require.NoError(t, err)
	require.Len(t, history, 1)

	// Recipient gets the canonical message, no provisional id
	toBob := sender.messagesFor("bob")
	require.Len(t, toBob, 1)
	assert.Equal(t, types.EventReceiveMessage, toBob[0].Type)
	assert.Empty(t, toBob[0].Message.ProvisionalID)

	// Sender's echo carries the provisional id for reconciliation
	toAlice := sender.messagesFor("alice")
	require.Len(t, toAlice, 1)
	assert.Equal(t, "tmp-1", toAlice[0].Message.ProvisionalID)
	assert.Equal(t, msg.MessageID, toAlice[0].Message.MessageID)
}

func TestIngestMirrorsNonSignalingSources(t *testing.T) {
	store := storage.NewMemoryStore()
	relay, _, cmd := newTestRelay(store)

	_, _, err := relay.Ingest(context.Background(), types.SourceChannel, "alice", "bob", "over channel", "")
	require.NoError(t, err)
	_, _, err = relay.Ingest(context.Background(), types.SourceREST, "alice", "bob", "over rest", "")
	require.NoError(t, err)
	_, _, err = relay.Ingest(context.Background(), types.SourceSignaling, "alice", "bob", "over signaling", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"over channel", "over rest"}, cmd.sent())
}

func TestIngestAbsorbsSignalingEcho(t *testing.T) {
	store := storage.NewMemoryStore()
	relay, sender, _ := newTestRelay(store)

	_, delivered, err := relay.Ingest(context.Background(), types.SourceChannel, "alice", "bob", "hello", "")
	require.NoError(t, err)
	require.True(t, delivered)

	// The signaling layer echoes the mirrored send back
	_, delivered, err = relay.Ingest(context.Background(), types.SourceSignaling, "alice", "bob", "hello", "")
	require.NoError(t, err)
	assert.False(t, delivered)

	history, err := store.FindMessagesByConversation(context.Background(), types.NewConversationKey("alice", "bob"))
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Len(t, sender.messagesFor("bob"), 1)
}

func TestIngestValidation(t *testing.T) {
	store := storage.NewMemoryStore()
	relay, _, _ := newTestRelay(store)
	ctx := context.Background()

	_, _, err := relay.Ingest(ctx, types.SourceChannel, "alice", "bob", "", "")
	assert.ErrorIs(t, err, ErrEmptyBody)

	big := make([]byte, 4097)
	for i := range big {
		big[i] = 'x'
	}
	_, _, err = relay.Ingest(ctx, types.SourceChannel, "alice", "bob", string(big), "")
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	_, _, err = relay.Ingest(ctx, types.SourceChannel, "alice", "alice", "note to self", "")
	assert.ErrorIs(t, err, ErrSelfMessage)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	relay, sender, _ := newTestRelay(store)
	ctx := context.Background()

	_, _, err := relay.Ingest(ctx, types.SourceChannel, "alice", "bob", "one", "")
	require.NoError(t, err)
	_, _, err = relay.Ingest(ctx, types.SourceChannel, "alice", "bob", "two", "")
	require.NoError(t, err)

	at, count, err := relay.MarkRead(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.False(t, at.IsZero())

	var read []types.MessagesReadEvent
	for _, e := range sender.eventsFor("alice") {
		if ev, ok := e.(types.MessagesReadEvent); ok {
			read = append(read, ev)
		}
	}
	require.Len(t, read, 1)
	assert.Equal(t, "bob", read[0].PartnerID)

	// Nothing left unread: no-op, no second notification
	_, count, err = relay.MarkRead(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	var again int
	for _, e := range sender.eventsFor("alice") {
		if _, ok := e.(types.MessagesReadEvent); ok {
			again++
		}
	}
	assert.Equal(t, 1, again)
}

func TestEditBySenderFansOut(t *testing.T) {
	store := storage.NewMemoryStore()
	relay, sender, _ := newTestRelay(store)
	ctx := context.Background()

	msg, _, err := relay.Ingest(ctx, types.SourceChannel, "alice", "bob", "helo", "")
	require.NoError(t, err)

	updated, err := relay.Edit(ctx, "alice", msg.MessageID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", updated.Body)
	assert.True(t, updated.Edited)

	toBob := sender.messagesFor("bob")
	require.Len(t, toBob, 2)
	assert.Equal(t, types.EventMessageEdited, toBob[1].Type)
	assert.Equal(t, "hello", toBob[1].Message.Body)
}

func TestEditRejectsNonSender(t *testing.T) {
	store := storage.NewMemoryStore()
	relay, _, _ := newTestRelay(store)
	ctx := context.Background()

	msg, _, err := relay.Ingest(ctx, types.SourceChannel, "alice", "bob", "hi", "")
	require.NoError(t, err)

	_, err = relay.Edit(ctx, "bob", msg.MessageID, "hijacked")
	assert.ErrorIs(t, err, ErrNotMessageOwner)

	_, err = relay.Edit(ctx, "alice", "no-such-id", "x")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDeleteBySender(t *testing.T) {
	store := storage.NewMemoryStore()
	relay, sender, _ := newTestRelay(store)
	ctx := context.Background()

	msg, _, err := relay.Ingest(ctx, types.SourceChannel, "alice", "bob", "oops", "")
	require.NoError(t, err)

	require.ErrorIs(t, relay.Delete(ctx, "bob", msg.MessageID), ErrNotMessageOwner)
	require.NoError(t, relay.Delete(ctx, "alice", msg.MessageID))

	_, err = store.GetMessage(ctx, msg.MessageID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	var deleted int
	for _, e := range sender.eventsFor("bob") {
		if _, ok := e.(types.MessageDeletedEvent); ok {
			deleted++
		}
	}
	assert.Equal(t, 1, deleted)
}

func TestConversationsAndHistory(t *testing.T) {
	store := storage.NewMemoryStore()
	relay, _, _ := newTestRelay(store)
	ctx := context.Background()

	_, _, err := relay.Ingest(ctx, types.SourceChannel, "alice", "bob", "hi bob", "")
	require.NoError(t, err)
	_, _, err = relay.Ingest(ctx, types.SourceChannel, "carol", "bob", "hi from carol", "")
	require.NoError(t, err)

	summaries, err := relay.Conversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	history, err := relay.History(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi bob", history[0].Body)
}

// unreliableStore fails CreateMessage a set number of times before handing
// off to the real store
type unreliableStore struct {
	storage.Store
	failures int
	attempts int
}

func (s *unreliableStore) CreateMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	s.attempts++
	if s.failures > 0 {
		s.failures--
		return types.Message{}, errors.New("write rejected")
	}
	return s.Store.CreateMessage(ctx, msg)
}

func TestIngestRetryAfterPersistenceFailureIsNotADuplicate(t *testing.T) {
	store := &unreliableStore{Store: storage.NewMemoryStore(), failures: 2}
	relay, sender, _ := newTestRelay(store)
	ctx := context.Background()

	// Both write attempts fail; the failure surfaces to the sender
	_, _, err := relay.Ingest(ctx, types.SourceChannel, "alice", "bob", "please hold", "tmp-1")
	var persErr *types.PersistenceError
	require.ErrorAs(t, err, &persErr)
	assert.Equal(t, 2, store.attempts)
	assert.Empty(t, sender.messagesFor("bob"))

	// The sender retries the same message inside the dedup window; it must
	// be persisted, not absorbed as a duplicate of the failed attempt
	msg, delivered, err := relay.Ingest(ctx, types.SourceChannel, "alice", "bob", "please hold", "tmp-1")
	require.NoError(t, err)
	require.True(t, delivered)
	assert.NotEmpty(t, msg.MessageID)

	history, err := store.FindMessagesByConversation(ctx, types.NewConversationKey("alice", "bob"))
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Len(t, sender.messagesFor("bob"), 1)
}
