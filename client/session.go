package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/nexus-im/ghost/store/message"
	"github.com/nexus-im/ghost/store/notification"
)

// Update tells a UI which part of the local state changed.
type Update struct {
	Type           string
	ConversationID string
}

// Session is the local view of one signed-in user: open timelines, the
// contact list and recent notifications, kept consistent from REST
// responses and live events.
type Session struct {
	api    *APIClient
	userID string
	logger zerolog.Logger

	contacts *Contacts

	mu            sync.RWMutex
	timelines     map[string]*Timeline
	notifications []notification.Notification
	onUpdate      func(Update)
}

// NewSession creates a session for userID.
func NewSession(api *APIClient, userID string, logger zerolog.Logger) *Session {
	return &Session{
		api:       api,
		userID:    userID,
		logger:    logger,
		contacts:  NewContacts(),
		timelines: make(map[string]*Timeline),
	}
}

// UserID returns the signed-in user.
func (s *Session) UserID() string { return s.userID }

// API returns the underlying REST client.
func (s *Session) API() *APIClient { return s.api }

// Contacts returns the contact list.
func (s *Session) Contacts() *Contacts { return s.contacts }

// OnUpdate registers a change callback. It runs synchronously.
func (s *Session) OnUpdate(fn func(Update)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

func (s *Session) notify(u Update) {
	s.mu.RLock()
	fn := s.onUpdate
	s.mu.RUnlock()
	if fn != nil {
		fn(u)
	}
}

// Start loads the contact list and notifications.
func (s *Session) Start(ctx context.Context) error {
	recent, err := s.api.RecentConversations(ctx)
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	s.contacts.Seed(recent)

	notes, err := s.api.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	s.mu.Lock()
	s.notifications = notes
	s.mu.Unlock()
	return nil
}

// Open loads the history of a conversation and keeps its timeline current.
func (s *Session) Open(ctx context.Context, conversationID string) (*Timeline, error) {
	msgs, err := s.api.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	tl, ok := s.timelines[conversationID]
	if !ok {
		tl = NewTimeline(conversationID)
		s.timelines[conversationID] = tl
	}
	s.mu.Unlock()

	tl.Seed(msgs)
	return tl, nil
}

// OpenWith finds or creates the conversation with receiverID and opens it.
func (s *Session) OpenWith(ctx context.Context, receiverID string) (*Timeline, error) {
	convo, err := s.api.GetOrCreateConversation(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	s.contacts.Touch(receiverID, convo.ID, convo.CreatedAt)
	return s.Open(ctx, convo.ID)
}

// Close stops tracking a conversation.
func (s *Session) Close(conversationID string) {
	s.mu.Lock()
	delete(s.timelines, conversationID)
	s.mu.Unlock()
}

// Timeline returns the open timeline for conversationID.
func (s *Session) Timeline(conversationID string) (*Timeline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tl, ok := s.timelines[conversationID]
	return tl, ok
}

// Send posts a text message to an open conversation. The message appears
// in the timeline immediately and is replaced by the server's copy once
// confirmed.
func (s *Session) Send(ctx context.Context, conversationID, text string) (*message.Message, error) {
	clientID := ulid.Make().String()
	tl, open := s.Timeline(conversationID)
	if open {
		tl.AddPending(clientID, s.userID, text, nil)
		s.notify(Update{Type: EventReceiveMessage, ConversationID: conversationID})
	}

	msg, err := s.api.SendMessage(ctx, SendParams{
		ConversationID: conversationID,
		Text:           text,
		ClientID:       clientID,
	})
	if err != nil {
		if open {
			tl.Fail(clientID)
			s.notify(Update{Type: EventReceiveMessage, ConversationID: conversationID})
		}
		return nil, err
	}

	if open {
		tl.Confirm(clientID, *msg)
	}
	s.contacts.TouchConversation(msg.ConversationID, msg.CreatedAt)
	s.notify(Update{Type: EventReceiveMessage, ConversationID: msg.ConversationID})
	return msg, nil
}

// Edit replaces the text of one of the user's messages.
func (s *Session) Edit(ctx context.Context, id, text string) (*message.Message, error) {
	msg, err := s.api.EditMessage(ctx, id, text)
	if err != nil {
		return nil, err
	}
	s.applyMessage(EventMessageEdited, *msg)
	return msg, nil
}

// Delete tombstones one of the user's messages.
func (s *Session) Delete(ctx context.Context, id string) (*message.Message, error) {
	msg, err := s.api.DeleteMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	s.applyMessage(EventMessageDeleted, *msg)
	return msg, nil
}

// Notifications returns the known notifications, newest first.
func (s *Session) Notifications() []notification.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]notification.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// MarkRead marks a notification as read.
func (s *Session) MarkRead(ctx context.Context, id string) error {
	n, err := s.api.MarkNotificationRead(ctx, id)
	if err != nil {
		return err
	}
	s.upsertNotification(*n)
	return nil
}

// HandleEvent routes a live event into local state. Duplicate and stale
// events are absorbed.
func (s *Session) HandleEvent(env Envelope) {
	switch env.Type {
	case EventReceiveMessage, EventMessageEdited, EventMessageDeleted:
		var msg message.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			s.logger.Warn().Err(err).Str("type", env.Type).Msg("Malformed message event")
			return
		}
		if env.Type == EventReceiveMessage {
			peer := msg.SenderID
			if peer == s.userID {
				s.contacts.TouchConversation(msg.ConversationID, msg.CreatedAt)
			} else {
				s.contacts.Touch(peer, msg.ConversationID, msg.CreatedAt)
			}
		}
		s.applyMessage(env.Type, msg)
	case EventNewNotification:
		var n notification.Notification
		if err := json.Unmarshal(env.Payload, &n); err != nil {
			s.logger.Warn().Err(err).Msg("Malformed notification event")
			return
		}
		s.upsertNotification(n)
		s.notify(Update{Type: env.Type})
	case EventAuthenticated, EventPong:
	default:
		s.logger.Debug().Str("type", env.Type).Msg("Ignoring unknown event")
	}
}

func (s *Session) applyMessage(eventType string, msg message.Message) {
	if tl, ok := s.Timeline(msg.ConversationID); ok {
		tl.Apply(msg)
	}
	s.notify(Update{Type: eventType, ConversationID: msg.ConversationID})
}

func (s *Session) upsertNotification(n notification.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == n.ID {
			s.notifications[i] = n
			return
		}
	}
	s.notifications = append(s.notifications, n)
	sort.SliceStable(s.notifications, func(i, j int) bool {
		return s.notifications[i].CreatedAt.After(s.notifications[j].CreatedAt)
	})
}

// Resync reloads contacts, notifications and every open timeline. Call it
// after a reconnect since events sent while offline are not replayed.
func (s *Session) Resync(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.timelines))
	for id := range s.timelines {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if _, err := s.Open(ctx, id); err != nil {
			return fmt.Errorf("resync %s: %w", id, err)
		}
		s.notify(Update{Type: EventReceiveMessage, ConversationID: id})
	}
	return nil
}

// Connect streams live events into the session until ctx is cancelled.
// Every successful handshake, the first included, triggers a Resync: events
// committed before the connection existed are never pushed.
func (s *Session) Connect(ctx context.Context, config RealtimeConfig) error {
	rt := NewRealtime(s.api.BaseURL(), s.api.Token(), config, s.HandleEvent)
	rt.OnConnect(func(reconnected bool) {
		if err := s.Resync(ctx); err != nil {
			s.logger.Warn().Err(err).Bool("reconnected", reconnected).Msg("Resync after connect failed")
		}
	})
	return rt.Run(ctx)
}
