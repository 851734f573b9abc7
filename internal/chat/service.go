// Package chat implements the direct messaging use cases. Every mutation is
// persisted first and only then handed to the publisher; publishing
// failures are logged and never returned to the caller.
package chat

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-im/ghost/internal/apperr"
	"github.com/nexus-im/ghost/internal/fanout"
	"github.com/nexus-im/ghost/internal/metrics"
	"github.com/nexus-im/ghost/store/conversation"
	"github.com/nexus-im/ghost/store/message"
	"github.com/nexus-im/ghost/store/notification"
)

var (
	ErrNotMember        = fmt.Errorf("%w: not a member of this conversation", apperr.ErrForbidden)
	ErrReceiverMismatch = fmt.Errorf("%w: receiver is not the other member of this conversation", apperr.ErrValidation)
	ErrNoTarget         = fmt.Errorf("%w: conversationId or receiverId is required", apperr.ErrValidation)
)

// Publisher pushes committed changes to live connections.
type Publisher interface {
	PublishMessage(eventType string, convo *conversation.Conversation, actorID string, msg *message.Message) error
	PublishNotification(n *notification.Notification) error
}

// conversationStripes is the number of locks that order commit and
// enqueue within a conversation.
const conversationStripes = 64

// Service coordinates the conversation directory, the message and
// notification stores, and live fan-out.
type Service struct {
	conversations conversation.Store
	messages      message.Store
	notifications notification.Store
	publisher     Publisher
	logger        zerolog.Logger

	// A message mutation holds its conversation's stripe from commit until
	// its event is enqueued, so pushes leave in commit order.
	stripes [conversationStripes]sync.Mutex
}

// NewService creates a Service.
func NewService(
	conversations conversation.Store,
	messages message.Store,
	notifications notification.Store,
	publisher Publisher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		notifications: notifications,
		publisher:     publisher,
		logger:        logger.With().Str("component", "chat").Logger(),
	}
}

func (s *Service) lockConversation(conversationID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	mu := &s.stripes[h.Sum32()%conversationStripes]
	mu.Lock()
	return mu.Unlock
}

// GetOrCreateConversation returns the conversation between userID and
// otherID, creating it on first contact.
func (s *Service) GetOrCreateConversation(ctx context.Context, userID, otherID string) (*conversation.Conversation, error) {
	convo, created, err := s.conversations.GetOrCreate(ctx, userID, otherID)
	if err != nil {
		return nil, err
	}
	if created {
		metrics.ConversationsCreated.Inc()
	}
	return convo, nil
}

// RecentConversation is one entry of a user's contact list.
type RecentConversation struct {
	ConversationID string    `json:"conversationId"`
	RecipientID    string    `json:"recipientId"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
}

// RecentConversations lists the user's conversations, most recently active
// first. A conversation without messages counts as active when created.
func (s *Service) RecentConversations(ctx context.Context, userID string) ([]RecentConversation, error) {
	convos, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(convos))
	for i, c := range convos {
		ids[i] = c.ID
	}
	latest, err := s.messages.LatestActivity(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]RecentConversation, 0, len(convos))
	for _, c := range convos {
		at, ok := latest[c.ID]
		if !ok {
			at = c.CreatedAt
		}
		out = append(out, RecentConversation{
			ConversationID: c.ID,
			RecipientID:    c.Other(userID),
			LastMessageAt:  at,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

// SendRequest is a new message as submitted by its sender.
type SendRequest struct {
	ConversationID string
	ReceiverID     string
	Text           string
	Media          *message.Media
	ClientID       string
}

// SendMessage validates, persists and fans out a new message. When only a
// receiver is given, the conversation is found or created.
func (s *Service) SendMessage(ctx context.Context, senderID string, req SendRequest) (*message.Message, error) {
	if err := message.Validate(req.Text, req.Media); err != nil {
		return nil, err
	}

	convo, err := s.resolveConversation(ctx, senderID, req.ConversationID, req.ReceiverID)
	if err != nil {
		return nil, err
	}

	msg := &message.Message{
		ConversationID: convo.ID,
		SenderID:       senderID,
		Text:           req.Text,
		Media:          req.Media,
		ClientID:       req.ClientID,
	}
	unlock := s.lockConversation(convo.ID)
	defer unlock()
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	content := "text"
	if msg.Media != nil {
		content = "media"
	}
	metrics.MessagesSent.WithLabelValues(content).Inc()

	s.publishMessage(fanout.TypeReceiveMessage, convo, senderID, msg)
	return msg, nil
}

func (s *Service) resolveConversation(ctx context.Context, senderID, conversationID, receiverID string) (*conversation.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	receiverID = strings.TrimSpace(receiverID)

	if conversationID == "" {
		if receiverID == "" {
			return nil, ErrNoTarget
		}
		return s.GetOrCreateConversation(ctx, senderID, receiverID)
	}

	convo, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !convo.HasMember(senderID) {
		return nil, ErrNotMember
	}
	if receiverID != "" && convo.Other(senderID) != receiverID {
		return nil, ErrReceiverMismatch
	}
	return convo, nil
}

// ListMessages returns the conversation history to one of its members.
func (s *Service) ListMessages(ctx context.Context, requesterID, conversationID string) ([]*message.Message, error) {
	convo, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !convo.HasMember(requesterID) {
		return nil, ErrNotMember
	}
	return s.messages.ListByConversation(ctx, convo.ID)
}

// EditMessage replaces the text of a message owned by requesterID.
func (s *Service) EditMessage(ctx context.Context, requesterID, messageID, text string) (*message.Message, error) {
	current, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" && current.Media == nil && current.SenderID == requesterID && !current.Deleted {
		return nil, message.ErrEmpty
	}

	unlock := s.lockConversation(current.ConversationID)
	defer unlock()
	msg, err := s.messages.Edit(ctx, messageID, requesterID, text)
	if err != nil {
		return nil, err
	}
	metrics.MessageMutations.WithLabelValues("edit").Inc()
	s.publishMutation(ctx, fanout.TypeMessageEdited, requesterID, msg)
	return msg, nil
}

// DeleteMessage tombstones a message owned by requesterID.
func (s *Service) DeleteMessage(ctx context.Context, requesterID, messageID string) (*message.Message, error) {
	current, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockConversation(current.ConversationID)
	defer unlock()
	msg, err := s.messages.SoftDelete(ctx, messageID, requesterID)
	if err != nil {
		return nil, err
	}
	metrics.MessageMutations.WithLabelValues("delete").Inc()
	s.publishMutation(ctx, fanout.TypeMessageDeleted, requesterID, msg)
	return msg, nil
}

func (s *Service) publishMutation(ctx context.Context, eventType, actorID string, msg *message.Message) {
	convo, err := s.conversations.Get(ctx, msg.ConversationID)
	if err != nil {
		s.logger.Error().Err(err).Str("message_id", msg.ID).Msg("conversation lookup for fan-out failed")
		return
	}
	s.publishMessage(eventType, convo, actorID, msg)
}

func (s *Service) publishMessage(eventType string, convo *conversation.Conversation, actorID string, msg *message.Message) {
	if err := s.publisher.PublishMessage(eventType, convo, actorID, msg); err != nil {
		s.logger.Warn().Err(err).Str("type", eventType).Str("message_id", msg.ID).Msg("fan-out failed")
	}
}

// Notify records that senderID acted on recipientID's content. Acting on
// your own content produces no notification and returns nil.
func (s *Service) Notify(ctx context.Context, senderID, recipientID string, kind notification.Kind, postID string) (*notification.Notification, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, fmt.Errorf("%w: recipientId is required", apperr.ErrValidation)
	}
	kind, err := notification.ParseKind(string(kind))
	if err != nil {
		return nil, err
	}
	if senderID == recipientID {
		return nil, nil
	}

	n := &notification.Notification{
		RecipientID: recipientID,
		SenderID:    senderID,
		Kind:        kind,
		PostID:      postID,
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, err
	}
	metrics.NotificationsCreated.WithLabelValues(string(kind)).Inc()

	if err := s.publisher.PublishNotification(n); err != nil {
		s.logger.Warn().Err(err).Str("notification_id", n.ID).Msg("fan-out failed")
	}
	return n, nil
}

// ListNotifications returns the newest notifications of userID.
func (s *Service) ListNotifications(ctx context.Context, userID string) ([]*notification.Notification, error) {
	return s.notifications.ListRecent(ctx, userID, notification.DefaultLimit)
}

// MarkNotificationRead marks one of userID's notifications as read.
func (s *Service) MarkNotificationRead(ctx context.Context, userID, notificationID string) (*notification.Notification, error) {
	return s.notifications.MarkRead(ctx, notificationID, userID)
}
