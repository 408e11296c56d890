// Package memory is a goroutine-safe in-process cache driver. Contents do not survive restarts.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vovakirdan/wirechat-client/internal/cache"
	"github.com/vovakirdan/wirechat-client/internal/model"
)

type storedMessage struct {
	seq uint64
	msg model.Message
}

// Store implements cache.Store with maps.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]model.Conversation
	messages      map[string]storedMessage
	seq           uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		conversations: make(map[string]model.Conversation),
		messages:      make(map[string]storedMessage),
	}
}

// Init is a no-op.
func (s *Store) Init(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// UpsertConversation inserts or overwrites conv.
func (s *Store) UpsertConversation(_ context.Context, conv model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv.Normalize(model.SourceCache)
	return nil
}

// Conversations returns all conversations.
func (s *Store) Conversations(context.Context) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	return out, nil
}

// UpsertMessage inserts or overwrites msg.
func (s *Store) UpsertMessage(ctx context.Context, msg model.Message) error {
	return s.UpsertMessages(ctx, []model.Message{msg})
}

// UpsertMessages inserts or overwrites msgs, keeping the first insertion sequence of known IDs.
func (s *Store) UpsertMessages(_ context.Context, msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.putLocked(m)
	}
	return nil
}

func (s *Store) putLocked(m model.Message) {
	existing, ok := s.messages[m.ID]
	seq := existing.seq
	if !ok {
		s.seq++
		seq = s.seq
	}
	s.messages[m.ID] = storedMessage{seq: seq, msg: m.Normalize(model.SourceCache)}
}

// MessagesByConversation returns messages ascending by creation time.
func (s *Store) MessagesByConversation(_ context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationLocked(conversationID), nil
}

func (s *Store) conversationLocked(conversationID string) []model.Message {
	var rows []storedMessage
	for _, sm := range s.messages {
		if sm.msg.ConversationID == conversationID {
			rows = append(rows, sm)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].msg.CreatedAt.Equal(rows[j].msg.CreatedAt) {
			return rows[i].seq < rows[j].seq
		}
		return rows[i].msg.CreatedAt.Before(rows[j].msg.CreatedAt)
	})
	out := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.msg)
	}
	return out
}

// ReplaceConversationMessages makes the conversation's messages equal msgs.
func (s *Store) ReplaceConversationMessages(_ context.Context, conversationID string, msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sm := range s.messages {
		if sm.msg.ConversationID == conversationID {
			delete(s.messages, id)
		}
	}
	for _, m := range msgs {
		s.putLocked(m)
	}
	return nil
}

// Prune evicts old messages, overflowing messages and stale empty conversations.
func (s *Store) Prune(_ context.Context, policy cache.PrunePolicy) (cache.PruneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res cache.PruneResult
	if !policy.Before.IsZero() {
		for id, sm := range s.messages {
			if sm.msg.CreatedAt.Before(policy.Before) {
				delete(s.messages, id)
				res.Messages++
			}
		}
	}

	if policy.MaxMessagesPerConversation > 0 {
		byConv := make(map[string]struct{})
		for _, sm := range s.messages {
			byConv[sm.msg.ConversationID] = struct{}{}
		}
		for convID := range byConv {
			msgs := s.conversationLocked(convID)
			overflow := len(msgs) - policy.MaxMessagesPerConversation
			for i := 0; i < overflow; i++ {
				delete(s.messages, msgs[i].ID)
				res.Messages++
			}
		}
	}

	if !policy.Before.IsZero() {
		withMessages := make(map[string]struct{})
		for _, sm := range s.messages {
			withMessages[sm.msg.ConversationID] = struct{}{}
		}
		for id, c := range s.conversations {
			if _, ok := withMessages[id]; ok {
				continue
			}
			if c.UpdatedAt.Before(policy.Before) {
				delete(s.conversations, id)
				res.Conversations++
			}
		}
	}
	return res, nil
}

// Stats reports record counts. Size is not tracked.
func (s *Store) Stats(context.Context) (cache.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cache.Stats{
		Conversations: len(s.conversations),
		Messages:      len(s.messages),
	}, nil
}

// ClearAll empties both collections.
func (s *Store) ClearAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]model.Conversation)
	s.messages = make(map[string]storedMessage)
	return nil
}
