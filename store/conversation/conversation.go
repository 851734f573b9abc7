package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nexus-im/ghost/internal/apperr"
)

// Conversation represents the two-party channel between a pair of users.
// Members are stored normalised: Members[0] < Members[1].
type Conversation struct {
	ID        string    `json:"id"`
	Members   [2]string `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasMember reports whether userID is one of the two members.
func (c *Conversation) HasMember(userID string) bool {
	return c.Members[0] == userID || c.Members[1] == userID
}

// Other returns the member that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.Members[0] == userID {
		return c.Members[1]
	}
	return c.Members[0]
}

var (
	ErrConversationNotFound = fmt.Errorf("conversation %w", apperr.ErrNotFound)
	ErrInvalidPair          = fmt.Errorf("%w: conversation needs two distinct members", apperr.ErrValidation)
)

// Store defines conversation persistence operations.
type Store interface {
	// GetOrCreate returns the conversation for the unordered pair, creating
	// it on first contact. created is true only for the call that inserted it.
	GetOrCreate(ctx context.Context, userA, userB string) (convo *Conversation, created bool, err error)
	Get(ctx context.Context, id string) (*Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*Conversation, error)
}

// NormalizePair orders two member IDs so that (a,b) and (b,a) map to the
// same key.
func NormalizePair(userA, userB string) ([2]string, error) {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" || userA == userB {
		return [2]string{}, ErrInvalidPair
	}
	if userB < userA {
		userA, userB = userB, userA
	}
	return [2]string{userA, userB}, nil
}
