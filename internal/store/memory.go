package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a ConversationStore held entirely in process memory.
// It is used by tests and by the one-shot CLI path where persistence across
// restarts is not needed. All operations are serialised by a single mutex,
// which gives each conversation atomic read-modify-write.
type MemoryStore struct {
	// mu guards threads.
	mu sync.Mutex
	// threads maps conversation ID to its ordered message list.
	threads map[string][]Message
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]Message)}
}

// Append persists a single message for the given conversation.
func (s *MemoryStore) Append(_ context.Context, conversationID string, role Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[conversationID] = append(s.threads[conversationID], Message{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
	return nil
}

// Recent returns the most recent n messages for the conversation, oldest-first.
func (s *MemoryStore) Recent(_ context.Context, conversationID string, n int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.threads[conversationID]
	if n < len(msgs) {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Count returns the total number of messages stored for the conversation.
func (s *MemoryStore) Count(_ context.Context, conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads[conversationID]), nil
}

// Clear removes all messages for the conversation.
func (s *MemoryStore) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, conversationID)
	return nil
}

// PruneBefore removes messages older than cutoff across all conversations.
func (s *MemoryStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, msgs := range s.threads {
		kept := msgs[:0]
		for _, m := range msgs {
			if m.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			delete(s.threads, id)
			continue
		}
		s.threads[id] = kept
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
