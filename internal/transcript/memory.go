package transcript

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*Transcript
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*Transcript),
		now:   time.Now,
	}
}

// getOrCreate must be called with mu held for writing.
func (s *MemoryStore) getOrCreate(userID string) *Transcript {
	t, ok := s.users[userID]
	if !ok {
		now := s.now().UTC()
		t = &Transcript{
			UserID:          userID,
			LongTermContext: EmptyContext,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		s.users[userID] = t
	}
	return t
}

func (s *MemoryStore) Append(ctx context.Context, userID string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.getOrCreate(userID)
	t.ConversationHistory = append(t.ConversationHistory, turn)
	t.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Recent(ctx context.Context, userID string, n int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.users[userID]
	if !ok || n <= 0 {
		return nil, nil
	}
	h := t.ConversationHistory
	if len(h) > n {
		h = h[len(h)-n:]
	}
	return slices.Clone(h), nil
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.users[userID]
	if !ok {
		return Transcript{}, ErrNotFound
	}
	out := *t
	out.ConversationHistory = slices.Clone(t.ConversationHistory)
	return out, nil
}

func (s *MemoryStore) LongTermContext(ctx context.Context, userID string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.users[userID]; ok {
		return t.LongTermContext, nil
	}
	return EmptyContext, nil
}

func (s *MemoryStore) SetLongTermContext(ctx context.Context, userID string, value json.RawMessage) error {
	norm, err := NormalizeContext(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.getOrCreate(userID)
	t.LongTermContext = norm
	t.UpdatedAt = s.now().UTC()
	return nil
}
