package notification

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps notifications in process.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Notification
	seq   map[string]int64
	next  int64
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*Notification),
		seq:   make(map[string]int64),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := prepare(n, s.now()); err != nil {
		return err
	}
	c := *n
	s.items[n.ID] = &c
	s.next++
	s.seq[n.ID] = s.next
	return nil
}

func (s *MemoryStore) ListRecent(_ context.Context, recipientID string, limit int) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Notification{}
	for _, n := range s.items {
		if n.RecipientID == recipientID {
			c := *n
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.seq[out[i].ID] > s.seq[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, id, recipientID string) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[id]
	if !ok || n.RecipientID != recipientID {
		return nil, ErrNotificationNotFound
	}
	n.Read = true
	c := *n
	return &c, nil
}
