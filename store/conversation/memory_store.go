package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Conversation
	byPair map[[2]string]string
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Conversation),
		byPair: make(map[[2]string]string),
		now:    time.Now,
	}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, userA, userB string) (*Conversation, bool, error) {
	pair, err := NormalizePair(userA, userB)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPair[pair]; ok {
		c := *s.byID[id]
		return &c, false, nil
	}

	convo := &Conversation{
		ID:        uuid.NewString(),
		Members:   pair,
		CreatedAt: s.now().UTC(),
	}
	s.byID[convo.ID] = convo
	s.byPair[pair] = convo.ID

	c := *convo
	return &c, true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	convo, ok := s.byID[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	c := *convo
	return &c, nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID string) ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var convos []*Conversation
	for _, convo := range s.byID {
		if convo.HasMember(userID) {
			c := *convo
			convos = append(convos, &c)
		}
	}
	sort.Slice(convos, func(i, j int) bool {
		return convos[i].CreatedAt.Before(convos[j].CreatedAt)
	})
	return convos, nil
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
