package message

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const messageColumns = `id, conversation_id, sender_id, text, media_type, media_url, client_id,
		edited, edited_at, deleted, deleted_at, deleted_by, system_event, version, created_at, updated_at`

// SQLStore implements Store on PostgreSQL. Mutations use the version column
// as a compare-and-swap token.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

func (s *SQLStore) Create(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	msg.UpdatedAt = msg.CreatedAt
	msg.Version = 1

	mediaType, mediaURL := mediaColumns(msg.Media)
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, text, media_type, media_url, client_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Text, mediaType, mediaURL,
		nullString(msg.ClientID), msg.Version, msg.CreatedAt, msg.UpdatedAt)
	return err
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrMessageNotFound
	}
	return msg, err
}

func (s *SQLStore) Edit(ctx context.Context, id, requesterID, text string) (*Message, error) {
	return s.mutate(ctx, id, requesterID, func(m *Message, now time.Time) {
		m.applyEdit(text, now)
	})
}

func (s *SQLStore) SoftDelete(ctx context.Context, id, requesterID string) (*Message, error) {
	return s.mutate(ctx, id, requesterID, func(m *Message, now time.Time) {
		m.applyDelete(requesterID, now)
	})
}

// mutate re-reads the row, checks ownership and state, and writes the new
// version only if nobody else committed in between. A delete that wins the
// race makes the pending edit fail the deleted = FALSE guard.
func (s *SQLStore) mutate(ctx context.Context, id, requesterID string, apply func(*Message, time.Time)) (*Message, error) {
	update := `
		UPDATE messages
		SET text = $1, media_type = $2, media_url = $3, edited = $4, edited_at = $5,
			deleted = $6, deleted_at = $7, deleted_by = $8, system_event = $9,
			version = $10, updated_at = $11
		WHERE id = $12 AND version = $13 AND deleted = FALSE
	`

	for attempt := 0; attempt < maxMutationAttempts; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := CheckMutable(current, requesterID); err != nil {
			return nil, err
		}

		now := s.now().UTC()
		next := current.Clone()
		apply(next, now)
		next.Version = current.Version + 1
		next.UpdatedAt = now

		mediaType, mediaURL := mediaColumns(next.Media)
		res, err := s.db.ExecContext(ctx, update,
			next.Text, mediaType, mediaURL, next.Edited, next.EditedAt,
			next.Deleted, next.DeletedAt, nullString(next.DeletedBy), nullString(next.SystemEvent),
			next.Version, next.UpdatedAt, id, current.Version)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			return next, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", id, ErrConflict)
}

func (s *SQLStore) ListByConversation(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	msgs := []*Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *SQLStore) LatestActivity(ctx context.Context, conversationIDs []string) (map[string]time.Time, error) {
	latest := make(map[string]time.Time, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return latest, nil
	}

	query := `
		SELECT conversation_id, MAX(created_at)
		FROM messages
		WHERE conversation_id = ANY($1)
		GROUP BY conversation_id
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(conversationIDs))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		latest[id] = at
	}
	return latest, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		msg                           Message
		mediaType, mediaURL, clientID sql.NullString
		deletedBy, systemEvent        sql.NullString
		editedAt, deletedAt           sql.NullTime
	)
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Text, &mediaType, &mediaURL, &clientID,
		&msg.Edited, &editedAt, &msg.Deleted, &deletedAt, &deletedBy, &systemEvent,
		&msg.Version, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if mediaURL.Valid && mediaURL.String != "" {
		if mediaType.Valid && mediaType.String != "" {
			msg.Media = &Media{Kind: Kind(mediaType.String), URL: mediaURL.String}
		} else {
			msg.Media = LegacyMedia(mediaURL.String)
		}
	}
	msg.ClientID = clientID.String
	msg.DeletedBy = deletedBy.String
	msg.SystemEvent = systemEvent.String
	if editedAt.Valid {
		t := editedAt.Time
		msg.EditedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		msg.DeletedAt = &t
	}
	return &msg, nil
}

func mediaColumns(m *Media) (sql.NullString, sql.NullString) {
	if m == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return nullString(string(m.Kind)), nullString(m.URL)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
