package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nexus-im/ghost/internal/apperr"
)

// Kind is the social action that produced a notification.
type Kind string

const (
	KindLike    Kind = "like"
	KindComment Kind = "comment"
	KindShare   Kind = "share"
)

// ParseKind validates a notification kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindLike, KindComment, KindShare:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown notification type %q", apperr.ErrValidation, s)
}

// Notification tells a user that someone acted on their content.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipientId"`
	SenderID    string    `json:"senderId"`
	Kind        Kind      `json:"type"`
	PostID      string    `json:"postId"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DefaultLimit is the page size of the notification list.
const DefaultLimit = 20

var (
	ErrNotificationNotFound = fmt.Errorf("notification %w", apperr.ErrNotFound)
	ErrSelfNotification     = fmt.Errorf("%w: cannot notify yourself", apperr.ErrValidation)
)

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	// ListRecent returns the newest notifications of recipientID first.
	ListRecent(ctx context.Context, recipientID string, limit int) ([]*Notification, error)
	// MarkRead returns ErrNotificationNotFound when the notification is
	// missing or belongs to another user.
	MarkRead(ctx context.Context, id, recipientID string) (*Notification, error)
}

func prepare(n *Notification, now time.Time) error {
	if n.RecipientID == n.SenderID {
		return ErrSelfNotification
	}
	if n.ID == "" {
		n.ID = ulid.Make().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now.UTC()
	}
	return nil
}
