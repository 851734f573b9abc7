package notification

import (
	"context"
	"database/sql"
	"time"
)

// SQLStore implements Store on PostgreSQL.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

func (s *SQLStore) Create(ctx context.Context, n *Notification) error {
	if err := prepare(n, s.now()); err != nil {
		return err
	}
	query := `
		INSERT INTO notifications (id, recipient_id, sender_id, kind, post_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query, n.ID, n.RecipientID, n.SenderID, string(n.Kind), n.PostID, n.Read, n.CreatedAt)
	return err
}

func (s *SQLStore) ListRecent(ctx context.Context, recipientID string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := `
		SELECT id, recipient_id, sender_id, kind, post_id, read, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	out := []*Notification{}
	for rows.Next() {
		var n Notification
		var kind string
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.SenderID, &kind, &n.PostID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Kind = Kind(kind)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *SQLStore) MarkRead(ctx context.Context, id, recipientID string) (*Notification, error) {
	query := `
		UPDATE notifications SET read = TRUE
		WHERE id = $1 AND recipient_id = $2
		RETURNING id, recipient_id, sender_id, kind, post_id, read, created_at
	`
	var n Notification
	var kind string
	err := s.db.QueryRowContext(ctx, query, id, recipientID).
		Scan(&n.ID, &n.RecipientID, &n.SenderID, &kind, &n.PostID, &n.Read, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	n.Kind = Kind(kind)
	return &n, nil
}
