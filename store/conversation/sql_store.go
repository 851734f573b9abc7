package conversation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

func (s *SQLStore) GetOrCreate(ctx context.Context, userA, userB string) (*Conversation, bool, error) {
	pair, err := NormalizePair(userA, userB)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.getByPair(ctx, pair)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, false, err
	}

	convo := &Conversation{
		ID:        uuid.NewString(),
		Members:   pair,
		CreatedAt: s.now().UTC(),
	}

	insert := `
		INSERT INTO conversations (id, member_low, member_high, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (member_low, member_high) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, insert, convo.ID, pair[0], pair[1], convo.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
			return nil, false, err
		}
		// Lost the race to a concurrent first contact.
		existing, err := s.getByPair(ctx, pair)
		return existing, false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		existing, err := s.getByPair(ctx, pair)
		return existing, false, err
	}

	return convo, true, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, member_low, member_high, created_at
		FROM conversations
		WHERE id = $1
	`
	return scanConversation(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLStore) ListForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	query := `
		SELECT id, member_low, member_high, created_at
		FROM conversations
		WHERE member_low = $1 OR member_high = $1
		ORDER BY created_at
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var convos []*Conversation
	for rows.Next() {
		var convo Conversation
		if err := rows.Scan(&convo.ID, &convo.Members[0], &convo.Members[1], &convo.CreatedAt); err != nil {
			return nil, err
		}
		convos = append(convos, &convo)
	}
	return convos, rows.Err()
}

func (s *SQLStore) getByPair(ctx context.Context, pair [2]string) (*Conversation, error) {
	query := `
		SELECT id, member_low, member_high, created_at
		FROM conversations
		WHERE member_low = $1 AND member_high = $2
	`
	return scanConversation(s.db.QueryRowContext(ctx, query, pair[0], pair[1]))
}

func scanConversation(row *sql.Row) (*Conversation, error) {
	var convo Conversation
	if err := row.Scan(&convo.ID, &convo.Members[0], &convo.Members[1], &convo.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &convo, nil
}
