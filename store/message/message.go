package message

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nexus-im/ghost/internal/apperr"
)

// Kind is the media variant attached to a message.
type Kind string

const (
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindGIF     Kind = "gif"
	KindSticker Kind = "sticker"
)

// ParseKind validates a media kind supplied by a client.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindImage, KindVideo, KindGIF, KindSticker:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown media type %q", apperr.ErrValidation, s)
}

// Media is the tagged media descriptor of a message. It is immutable once
// the message is created.
type Media struct {
	Kind Kind   `json:"type" bson:"type"`
	URL  string `json:"url" bson:"url"`
}

// LegacyMedia migrates a bare locator string, as written by older clients,
// into a tagged descriptor. The kind is inferred from the file extension.
func LegacyMedia(locator string) *Media {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil
	}
	ext := strings.ToLower(path.Ext(locator))
	if u, err := url.Parse(locator); err == nil && u.Path != "" {
		ext = strings.ToLower(path.Ext(u.Path))
	}
	kind := KindImage
	switch ext {
	case ".mp4", ".webm", ".mov", ".m4v":
		kind = KindVideo
	case ".gif":
		kind = KindGIF
	}
	return &Media{Kind: kind, URL: locator}
}

// UnmarshalJSON accepts both the tagged object form and the legacy bare
// string form.
func (m *Media) UnmarshalJSON(data []byte) error {
	var legacy string
	if err := json.Unmarshal(data, &legacy); err == nil {
		if migrated := LegacyMedia(legacy); migrated != nil {
			*m = *migrated
		}
		return nil
	}
	type plain Media
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Media(p)
	return nil
}

// Message is a single direct message. Deleted messages keep their identity,
// sender and conversation so clients can still position the tombstone.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	Text           string     `json:"text"`
	Media          *Media     `json:"media,omitempty"`
	ClientID       string     `json:"clientId,omitempty"`
	Edited         bool       `json:"edited"`
	EditedAt       *time.Time `json:"editedAt,omitempty"`
	Deleted        bool       `json:"deleted"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
	DeletedBy      string     `json:"deletedBy,omitempty"`
	SystemEvent    string     `json:"systemEvent,omitempty"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// SystemEventDeleted marks a tombstoned message.
const SystemEventDeleted = "message_deleted"

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	c := *m
	if m.Media != nil {
		media := *m.Media
		c.Media = &media
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func (m *Message) applyEdit(text string, now time.Time) {
	m.Text = text
	m.Edited = true
	m.EditedAt = &now
}

func (m *Message) applyDelete(by string, now time.Time) {
	m.Text = ""
	m.Media = nil
	m.Deleted = true
	m.DeletedAt = &now
	m.DeletedBy = by
	m.SystemEvent = SystemEventDeleted
}

var (
	ErrMessageNotFound = fmt.Errorf("message %w", apperr.ErrNotFound)
	ErrEmpty           = fmt.Errorf("%w: message cannot be empty", apperr.ErrValidation)
	ErrNotSender       = fmt.Errorf("%w: only the sender may modify this message", apperr.ErrForbidden)
	ErrDeleted         = fmt.Errorf("%w: message is deleted", apperr.ErrInvalidState)
	ErrConflict        = fmt.Errorf("concurrent modification")
)

// Validate enforces the boundary rule that a message carries text and/or
// media. Stores do not call it.
func Validate(text string, media *Media) error {
	if media != nil {
		if _, err := ParseKind(string(media.Kind)); err != nil {
			return err
		}
		if strings.TrimSpace(media.URL) == "" {
			return fmt.Errorf("%w: media url is required", apperr.ErrValidation)
		}
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmpty
	}
	return nil
}

// CheckMutable applies the ownership and tombstone rules shared by edit and
// delete.
func CheckMutable(m *Message, requesterID string) error {
	if m.SenderID != requesterID {
		return ErrNotSender
	}
	if m.Deleted {
		return ErrDeleted
	}
	return nil
}

// NewID returns a lexically sortable message identity.
func NewID() string {
	return ulid.Make().String()
}

// maxMutationAttempts bounds compare-and-swap retries on a single message.
const maxMutationAttempts = 8

// Store is the durable message log.
type Store interface {
	Create(ctx context.Context, msg *Message) error
	Get(ctx context.Context, id string) (*Message, error)
	Edit(ctx context.Context, id, requesterID, text string) (*Message, error)
	SoftDelete(ctx context.Context, id, requesterID string) (*Message, error)
	// ListByConversation returns messages in ascending creation order;
	// equal timestamps keep insertion order.
	ListByConversation(ctx context.Context, conversationID string) ([]*Message, error)
	// LatestActivity returns the newest message time per conversation.
	// Conversations without messages are absent from the result.
	LatestActivity(ctx context.Context, conversationIDs []string) (map[string]time.Time, error)
}
