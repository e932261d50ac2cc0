package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

// MemoryStore is an in-process Store. It is the default backend and the one
// the test suite runs against.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*types.Message // messageID -> message
	order    []string                  // messageIDs in insertion order
	presence map[string]types.PresenceState
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*types.Message),
		presence: make(map[string]types.PresenceState),
	}
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg types.Message) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.MessageID = uuid.New().String()
	msg.ProvisionalID = ""
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	stored := msg
	s.messages[msg.MessageID] = &stored
	s.order = append(s.order, msg.MessageID)
	return msg, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID string) (types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return types.Message{}, types.ErrNotFound
	}
	return *msg, nil
}

func (s *MemoryStore) FindMessagesByConversation(_ context.Context, key types.ConversationKey) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Message
	for _, id := range s.order {
		msg, ok := s.messages[id]
		if !ok {
			continue
		}
		if msg.ConversationKey == key {
			out = append(out, *msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListConversations(_ context.Context, agentID string) ([]types.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[types.ConversationKey]*types.Message)
	unread := make(map[types.ConversationKey]int)

	for _, id := range s.order {
		msg, ok := s.messages[id]
		if !ok {
			continue
		}
		if msg.From != agentID && msg.To != agentID {
			continue
		}
		if cur, ok := latest[msg.ConversationKey]; !ok || msg.CreatedAt.After(cur.CreatedAt) {
			latest[msg.ConversationKey] = msg
		}
		if msg.To == agentID && msg.ReadAt == nil {
			unread[msg.ConversationKey]++
		}
	}

	out := make([]types.ConversationSummary, 0, len(latest))
	for key, msg := range latest {
		a, b := key.Partners()
		partner := a
		if partner == agentID {
			partner = b
		}
		out = append(out, types.ConversationSummary{
			PartnerID:     partner,
			LastMessage:   msg.Body,
			LastMessageAt: msg.CreatedAt,
			UnreadCount:   unread[key],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (s *MemoryStore) MarkMessagesRead(_ context.Context, from, to string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for _, msg := range s.messages {
		if msg.From == from && msg.To == to && msg.ReadAt == nil {
			readAt := at
			msg.ReadAt = &readAt
			updated++
		}
	}
	return updated, nil
}

func (s *MemoryStore) EditMessage(_ context.Context, messageID, newBody string) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return types.Message{}, types.ErrNotFound
	}
	msg.Body = newBody
	msg.Edited = true
	return *msg, nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[messageID]; !ok {
		return types.ErrNotFound
	}
	delete(s.messages, messageID)
	return nil
}

func (s *MemoryStore) UpsertPresence(_ context.Context, state types.PresenceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.presence[state.AgentID] = state
	return nil
}

func (s *MemoryStore) ReadPresence(_ context.Context, agentID string) (types.PresenceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.presence[agentID]
	if !ok {
		return types.PresenceState{}, types.ErrNotFound
	}
	return state, nil
}

func (s *MemoryStore) ListAgentsByPresence(_ context.Context, statuses []types.PresenceStatus) ([]types.PresenceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[types.PresenceStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []types.PresenceState
	for _, state := range s.presence {
		if want[state.Status] {
			out = append(out, state)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
