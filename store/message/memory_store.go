package message

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	msg *Message
	seq int64
}

// MemoryStore keeps messages in process. A single lock serialises
// mutations, which gives the same per-message guarantees as the
// version-checked SQL update.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*memEntry
	byConvo map[string][]*memEntry
	seq     int64
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*memEntry),
		byConvo: make(map[string][]*memEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = msg.CreatedAt
	msg.Version = 1

	s.seq++
	e := &memEntry{msg: msg.Clone(), seq: s.seq}
	s.byID[msg.ID] = e
	s.byConvo[msg.ConversationID] = append(s.byConvo[msg.ConversationID], e)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return e.msg.Clone(), nil
}

func (s *MemoryStore) Edit(_ context.Context, id, requesterID, text string) (*Message, error) {
	return s.mutate(id, requesterID, func(m *Message, now time.Time) {
		m.applyEdit(text, now)
	})
}

func (s *MemoryStore) SoftDelete(_ context.Context, id, requesterID string) (*Message, error) {
	return s.mutate(id, requesterID, func(m *Message, now time.Time) {
		m.applyDelete(requesterID, now)
	})
}

func (s *MemoryStore) mutate(id, requesterID string, apply func(*Message, time.Time)) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	if err := CheckMutable(e.msg, requesterID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	apply(e.msg, now)
	e.msg.Version++
	e.msg.UpdatedAt = now
	return e.msg.Clone(), nil
}

func (s *MemoryStore) ListByConversation(_ context.Context, conversationID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := append([]*memEntry(nil), s.byConvo[conversationID]...)
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.msg.CreatedAt.Before(b.msg.CreatedAt)
		}
		return a.seq < b.seq
	})

	msgs := make([]*Message, len(entries))
	for i, e := range entries {
		msgs[i] = e.msg.Clone()
	}
	return msgs, nil
}

func (s *MemoryStore) LatestActivity(_ context.Context, conversationIDs []string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]time.Time, len(conversationIDs))
	for _, id := range conversationIDs {
		for _, e := range s.byConvo[id] {
			if e.msg.CreatedAt.After(latest[id]) {
				latest[id] = e.msg.CreatedAt
			}
		}
	}
	return latest, nil
}
