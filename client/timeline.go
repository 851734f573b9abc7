// Package client is the Go client for a ghost server. It keeps a local,
// reconciled view of open conversations and the contact list, fed by REST
// responses and live events.
package client

import (
	"sort"
	"sync"
	"time"

	"github.com/nexus-im/ghost/store/message"
)

// PendingPrefix marks the ID of an optimistic entry that the server has not
// confirmed yet.
const PendingPrefix = "local-"

// Entry is a message in a Timeline. Pending entries carry a provisional ID.
type Entry struct {
	message.Message
	Pending bool `json:"pending,omitempty"`
}

// Timeline is the ordered, deduplicated message list of one conversation.
// Entries are keyed by identity and ordered by (CreatedAt, ID), so arrival
// order never affects position.
type Timeline struct {
	mu             sync.RWMutex
	conversationID string
	byID           map[string]*Entry
	order          []*Entry
	pending        map[string]string // client ID -> provisional entry ID
	now            func() time.Time
}

// NewTimeline creates an empty timeline for conversationID.
func NewTimeline(conversationID string) *Timeline {
	return &Timeline{
		conversationID: conversationID,
		byID:           make(map[string]*Entry),
		pending:        make(map[string]string),
		now:            time.Now,
	}
}

// ConversationID returns the conversation the timeline shows.
func (t *Timeline) ConversationID() string { return t.conversationID }

// Seed merges the authoritative list. Confirmed entries missing from it
// are removed; entries it holds in an older version than already known are
// not rolled back. Pending entries stay until the list commits their client
// ID, since their sends are still in flight.
func (t *Timeline) Seed(msgs []message.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	listed := make(map[string]bool, len(msgs))
	for i := range msgs {
		listed[msgs[i].ID] = true
		if msgs[i].ClientID != "" {
			t.dropPending(msgs[i].ClientID)
		}
		t.upsert(msgs[i])
	}

	kept := make(map[string]bool, len(t.pending))
	for _, id := range t.pending {
		kept[id] = true
	}
	order := t.order[:0]
	for _, e := range t.order {
		if listed[e.ID] || kept[e.ID] {
			order = append(order, e)
			continue
		}
		delete(t.byID, e.ID)
	}
	for i := len(order); i < len(t.order); i++ {
		t.order[i] = nil
	}
	t.order = order
}

// AddPending shows a message optimistically before the server confirms it.
func (t *Timeline) AddPending(clientID, senderID, text string, media *message.Media) message.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	msg := message.Message{
		ID:             PendingPrefix + clientID,
		ConversationID: t.conversationID,
		SenderID:       senderID,
		Text:           text,
		Media:          media,
		ClientID:       clientID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	t.dropPending(clientID)
	t.pending[clientID] = msg.ID
	t.insert(&Entry{Message: msg, Pending: true})
	return msg
}

// Confirm replaces the pending entry for clientID with the server's copy.
func (t *Timeline) Confirm(clientID string, msg message.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dropPending(clientID)
	t.upsert(msg)
}

// Fail removes the pending entry for clientID.
func (t *Timeline) Fail(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropPending(clientID)
}

// Apply merges an authoritative message from a response or a live event.
// It reports whether the timeline changed. Re-applying the same version is
// a no-op.
func (t *Timeline) Apply(msg message.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ConversationID != t.conversationID {
		return false
	}
	changed := false
	if msg.ClientID != "" {
		if _, ok := t.pending[msg.ClientID]; ok {
			t.dropPending(msg.ClientID)
			changed = true
		}
	}
	return t.upsert(msg) || changed
}

// Messages returns a snapshot in display order.
func (t *Timeline) Messages() []message.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]message.Message, len(t.order))
	for i, e := range t.order {
		out[i] = *e.Message.Clone()
	}
	return out
}

// Entries returns a snapshot in display order including pending state.
func (t *Timeline) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, len(t.order))
	for i, e := range t.order {
		out[i] = Entry{Message: *e.Message.Clone(), Pending: e.Pending}
	}
	return out
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

func (t *Timeline) upsert(msg message.Message) bool {
	if existing, ok := t.byID[msg.ID]; ok {
		if !supersedes(&msg, &existing.Message) {
			return false
		}
		// CreatedAt never changes, so the entry keeps its position.
		existing.Message = *msg.Clone()
		return true
	}
	t.insert(&Entry{Message: *msg.Clone()})
	return true
}

// supersedes reports whether next is a later state of the same message than
// current. Versions decide; equal versions keep the stored copy.
func supersedes(next, current *message.Message) bool {
	if next.Version != 0 && current.Version != 0 {
		return next.Version > current.Version
	}
	return next.UpdatedAt.After(current.UpdatedAt)
}

func (t *Timeline) insert(e *Entry) {
	i := sort.Search(len(t.order), func(i int) bool {
		return before(e, t.order[i])
	})
	t.order = append(t.order, nil)
	copy(t.order[i+1:], t.order[i:])
	t.order[i] = e
	t.byID[e.ID] = e
}

func (t *Timeline) dropPending(clientID string) {
	id, ok := t.pending[clientID]
	if !ok {
		return
	}
	delete(t.pending, clientID)
	if _, ok := t.byID[id]; !ok {
		return
	}
	delete(t.byID, id)
	for i, e := range t.order {
		if e.ID == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func before(a, b *Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
