package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

// The same behavioral suite runs against every backend that can run without
// external infrastructure.
func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	message := func(from, to, body string, at time.Time) types.Message {
		return types.Message{
			ConversationKey: types.NewConversationKey(from, to),
			From:            from,
			To:              to,
			Body:            body,
			CreatedAt:       at,
			Source:          types.SourceChannel,
		}
	}

	t.Run("create assigns canonical id", func(t *testing.T) {
		store := newStore(t)

		msg := message("alice", "bob", "hello", time.Now().UTC())
		msg.ProvisionalID = "tmp-1"
		stored, err := store.CreateMessage(ctx, msg)
		require.NoError(t, err)
		assert.NotEmpty(t, stored.MessageID)
		assert.Empty(t, stored.ProvisionalID)

		got, err := store.GetMessage(ctx, stored.MessageID)
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Body)
		assert.Equal(t, types.SourceChannel, got.Source)
	})

	t.Run("get unknown message", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetMessage(ctx, "missing")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("conversation history is ordered", func(t *testing.T) {
		store := newStore(t)
		base := time.Now().UTC().Truncate(time.Millisecond)

		for i, body := range []string{"first", "second", "third"} {
			_, err := store.CreateMessage(ctx, message("alice", "bob", body, base.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
		}
		_, err := store.CreateMessage(ctx, message("alice", "carol", "other thread", base))
		require.NoError(t, err)

		history, err := store.FindMessagesByConversation(ctx, types.NewConversationKey("bob", "alice"))
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, "first", history[0].Body)
		assert.Equal(t, "third", history[2].Body)
	})

	t.Run("conversation summaries", func(t *testing.T) {
		store := newStore(t)
		base := time.Now().UTC().Truncate(time.Millisecond)

		_, err := store.CreateMessage(ctx, message("alice", "bob", "old", base))
		require.NoError(t, err)
		_, err = store.CreateMessage(ctx, message("alice", "bob", "newest from alice", base.Add(2*time.Second)))
		require.NoError(t, err)
		_, err = store.CreateMessage(ctx, message("carol", "bob", "from carol", base.Add(time.Second)))
		require.NoError(t, err)

		summaries, err := store.ListConversations(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, summaries, 2)

		// Newest conversation first
		assert.Equal(t, "alice", summaries[0].PartnerID)
		assert.Equal(t, "newest from alice", summaries[0].LastMessage)
		assert.Equal(t, 2, summaries[0].UnreadCount)
		assert.Equal(t, "carol", summaries[1].PartnerID)
		assert.Equal(t, 1, summaries[1].UnreadCount)
	})

	t.Run("mark read", func(t *testing.T) {
		store := newStore(t)
		base := time.Now().UTC().Truncate(time.Millisecond)

		_, err := store.CreateMessage(ctx, message("alice", "bob", "one", base))
		require.NoError(t, err)
		_, err = store.CreateMessage(ctx, message("alice", "bob", "two", base.Add(time.Second)))
		require.NoError(t, err)
		_, err = store.CreateMessage(ctx, message("bob", "alice", "reply", base.Add(2*time.Second)))
		require.NoError(t, err)

		at := time.Now().UTC().Truncate(time.Millisecond)
		count, err := store.MarkMessagesRead(ctx, "alice", "bob", at)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		// Second pass has nothing to stamp
		count, err = store.MarkMessagesRead(ctx, "alice", "bob", at)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		history, err := store.FindMessagesByConversation(ctx, types.NewConversationKey("alice", "bob"))
		require.NoError(t, err)
		for _, msg := range history {
			if msg.From == "alice" {
				require.NotNil(t, msg.ReadAt)
			} else {
				assert.Nil(t, msg.ReadAt)
			}
		}
	})

	t.Run("edit message", func(t *testing.T) {
		store := newStore(t)

		stored, err := store.CreateMessage(ctx, message("alice", "bob", "typo", time.Now().UTC()))
		require.NoError(t, err)

		updated, err := store.EditMessage(ctx, stored.MessageID, "fixed")
		require.NoError(t, err)
		assert.Equal(t, "fixed", updated.Body)
		assert.True(t, updated.Edited)

		_, err = store.EditMessage(ctx, "missing", "x")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("delete message", func(t *testing.T) {
		store := newStore(t)

		stored, err := store.CreateMessage(ctx, message("alice", "bob", "gone", time.Now().UTC()))
		require.NoError(t, err)

		require.NoError(t, store.DeleteMessage(ctx, stored.MessageID))
		_, err = store.GetMessage(ctx, stored.MessageID)
		assert.ErrorIs(t, err, types.ErrNotFound)

		assert.ErrorIs(t, store.DeleteMessage(ctx, stored.MessageID), types.ErrNotFound)
	})

	t.Run("presence upsert and query", func(t *testing.T) {
		store := newStore(t)
		now := time.Now().UTC().Truncate(time.Millisecond)

		for agent, status := range map[string]types.PresenceStatus{
			"alice": types.StatusAvailable,
			"bob":   types.StatusBusy,
			"carol": types.StatusAway,
			"dave":  types.StatusOffline,
		} {
			require.NoError(t, store.UpsertPresence(ctx, types.PresenceState{
				AgentID:              agent,
				Status:               status,
				LastTransitionAt:     now,
				LastTransitionReason: types.ReasonManual,
			}))
		}

		state, err := store.ReadPresence(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, types.StatusBusy, state.Status)

		_, err = store.ReadPresence(ctx, "nobody")
		assert.ErrorIs(t, err, types.ErrNotFound)

		online, err := store.ListAgentsByPresence(ctx, types.OnlineStatuses)
		require.NoError(t, err)
		ids := make([]string, len(online))
		for i, st := range online {
			ids[i] = st.AgentID
		}
		assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, ids)

		// Upsert replaces in place
		require.NoError(t, store.UpsertPresence(ctx, types.PresenceState{
			AgentID:              "alice",
			Status:               types.StatusOffline,
			LastTransitionAt:     now.Add(time.Second),
			LastTransitionReason: types.ReasonLogout,
		}))
		online, err = store.ListAgentsByPresence(ctx, types.OnlineStatuses)
		require.NoError(t, err)
		assert.Len(t, online, 2)
	})
}
