package client

import (
	"sort"
	"sync"
	"time"
)

// RecentConversation is an entry of GET /api/messages/conversations/recent.
type RecentConversation struct {
	ConversationID string    `json:"conversationId"`
	RecipientID    string    `json:"recipientId"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
}

// Contact is a user the local user has a conversation with.
type Contact struct {
	UserID         string
	ConversationID string
	LastActivity   time.Time
}

// Contacts is the recency-ordered contact list.
type Contacts struct {
	mu     sync.RWMutex
	byUser map[string]*Contact
	byConv map[string]string
}

// NewContacts creates an empty list.
func NewContacts() *Contacts {
	return &Contacts{
		byUser: make(map[string]*Contact),
		byConv: make(map[string]string),
	}
}

// Seed replaces the list with the server's ordering.
func (c *Contacts) Seed(recent []RecentConversation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byUser = make(map[string]*Contact, len(recent))
	c.byConv = make(map[string]string, len(recent))
	for _, r := range recent {
		c.byUser[r.RecipientID] = &Contact{UserID: r.RecipientID, ConversationID: r.ConversationID, LastActivity: r.LastMessageAt}
		c.byConv[r.ConversationID] = r.RecipientID
	}
}

// Touch records activity with userID. An older timestamp than the one
// already known does not move the contact. It reports whether the list
// changed.
func (c *Contacts) Touch(userID, conversationID string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.byUser[userID]
	if ok && at.Before(existing.LastActivity) {
		return false
	}
	if !ok {
		existing = &Contact{UserID: userID}
		c.byUser[userID] = existing
	}
	existing.LastActivity = at
	if conversationID != "" {
		existing.ConversationID = conversationID
		c.byConv[conversationID] = userID
	}
	return true
}

// TouchConversation is Touch for callers that only know the conversation.
func (c *Contacts) TouchConversation(conversationID string, at time.Time) bool {
	c.mu.RLock()
	userID, ok := c.byConv[conversationID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return c.Touch(userID, conversationID, at)
}

// List returns contacts, most recent first.
func (c *Contacts) List() []Contact {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Contact, 0, len(c.byUser))
	for _, ct := range c.byUser {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
