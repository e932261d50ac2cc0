package presence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessfa-ye/callcenter-livechat/internal/events"
	"github.com/tessfa-ye/callcenter-livechat/internal/storage"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []any
}

func (f *fakeBroadcaster) Broadcast(event any) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *fakeBroadcaster) statusUpdates() []types.StatusUpdateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.StatusUpdateEvent
	for _, e := range f.events {
		if ev, ok := e.(types.StatusUpdateEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

// flakyStore fails UpsertPresence a configured number of times
type flakyStore struct {
	storage.Store
	mu       sync.Mutex
	failures int
	attempts int
}

func (f *flakyStore) UpsertPresence(ctx context.Context, state types.PresenceState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return errors.New("write throttled")
	}
	return f.Store.UpsertPresence(ctx, state)
}

func newTestSynchronizer(store storage.Store) (*Synchronizer, *fakeBroadcaster) {
	logger := zerolog.Nop()
	broadcast := &fakeBroadcaster{}
	return NewSynchronizer(store, broadcast, events.NewFallback(logger), logger), broadcast
}

func TestLoginMarksAvailable(t *testing.T) {
	store := storage.NewMemoryStore()
	p, broadcast := newTestSynchronizer(store)

	require.NoError(t, p.OnLogin(context.Background(), "agent-1"))

	state, err := store.ReadPresence(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusAvailable, state.Status)
	assert.Equal(t, types.ReasonLogin, state.LastTransitionReason)

	updates := broadcast.statusUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, types.EventStatusUpdate, updates[0].Type)
	assert.Equal(t, types.ActionLogin, updates[0].Action)
}

func TestLogoutMarksOffline(t *testing.T) {
	store := storage.NewMemoryStore()
	p, broadcast := newTestSynchronizer(store)

	require.NoError(t, p.OnLogin(context.Background(), "agent-1"))
	require.NoError(t, p.OnLogout(context.Background(), "agent-1"))

	assert.Equal(t, types.StatusOffline, p.Status(context.Background(), "agent-1"))

	updates := broadcast.statusUpdates()
	require.Len(t, updates, 2)
	assert.Equal(t, types.ActionLogout, updates[1].Action)
	assert.Equal(t, types.StatusOffline, updates[1].Status)
}

func TestManualUpdate(t *testing.T) {
	store := storage.NewMemoryStore()
	p, broadcast := newTestSynchronizer(store)
	require.NoError(t, p.OnLogin(context.Background(), "agent-1"))

	require.NoError(t, p.OnManualUpdate(context.Background(), "agent-1", types.StatusBusy))

	assert.Equal(t, types.StatusBusy, p.Status(context.Background(), "agent-1"))
	updates := broadcast.statusUpdates()
	assert.Equal(t, types.ActionUpdate, updates[len(updates)-1].Action)
}

func TestManualUpdateRejectsOffline(t *testing.T) {
	store := storage.NewMemoryStore()
	p, broadcast := newTestSynchronizer(store)
	require.NoError(t, p.OnLogin(context.Background(), "agent-1"))

	err := p.OnManualUpdate(context.Background(), "agent-1", types.StatusOffline)

	var ite *types.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, types.StatusAvailable, p.Status(context.Background(), "agent-1"))
	assert.Len(t, broadcast.statusUpdates(), 1)
}

func TestPersistenceRetriesOnce(t *testing.T) {
	flaky := &flakyStore{Store: storage.NewMemoryStore(), failures: 1}
	p, broadcast := newTestSynchronizer(flaky)

	require.NoError(t, p.OnLogin(context.Background(), "agent-1"))

	assert.Equal(t, 2, flaky.attempts)
	assert.Len(t, broadcast.statusUpdates(), 1)
}

func TestPersistenceDoubleFailureSurfaces(t *testing.T) {
	flaky := &flakyStore{Store: storage.NewMemoryStore(), failures: 2}
	p, broadcast := newTestSynchronizer(flaky)

	err := p.OnLogin(context.Background(), "agent-1")

	var pe *types.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Empty(t, broadcast.statusUpdates())
	assert.Equal(t, types.StatusOffline, p.Status(context.Background(), "agent-1"))
}

func TestOnlineSetUsesCanonicalPredicate(t *testing.T) {
	store := storage.NewMemoryStore()
	p, _ := newTestSynchronizer(store)
	ctx := context.Background()

	require.NoError(t, p.OnLogin(ctx, "agent-1"))
	require.NoError(t, p.OnLogin(ctx, "agent-2"))
	require.NoError(t, p.OnManualUpdate(ctx, "agent-2", types.StatusAway))
	require.NoError(t, p.OnLogin(ctx, "agent-3"))
	require.NoError(t, p.OnManualUpdate(ctx, "agent-3", types.StatusBusy))
	require.NoError(t, p.OnLogin(ctx, "agent-4"))
	require.NoError(t, p.OnLogout(ctx, "agent-4"))

	online, err := p.OnlineAgents(ctx)
	require.NoError(t, err)
	ids := make([]string, len(online))
	for i, st := range online {
		ids[i] = st.AgentID
	}
	assert.ElementsMatch(t, []string{"agent-1", "agent-2", "agent-3"}, ids)

	count, err := p.OnlineCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestStatusFallsBackToStore(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.UpsertPresence(context.Background(), types.PresenceState{
		AgentID: "agent-9",
		Status:  types.StatusAway,
	}))
	p, _ := newTestSynchronizer(store)

	assert.Equal(t, types.StatusAway, p.Status(context.Background(), "agent-9"))
	assert.Equal(t, types.StatusOffline, p.Status(context.Background(), "never-seen"))
}
