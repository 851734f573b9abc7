package notification

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nexus-im/ghost/internal/apperr"
)

func TestMemoryListRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		n := &Notification{RecipientID: "alice", SenderID: "bob", Kind: KindLike, PostID: "p1", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.Create(ctx, n); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	_ = s.Create(ctx, &Notification{RecipientID: "carol", SenderID: "bob", Kind: KindShare})

	list, err := s.ListRecent(ctx, "alice", DefaultLimit)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(list) != DefaultLimit {
		t.Fatalf("expected %d, got %d", DefaultLimit, len(list))
	}
	if !list[0].CreatedAt.Equal(base.Add(24 * time.Minute)) {
		t.Errorf("newest first violated: %v", list[0].CreatedAt)
	}
	for _, n := range list {
		if n.RecipientID != "alice" {
			t.Errorf("foreign notification leaked: %+v", n)
		}
	}
}

func TestMemoryRejectsSelfNotification(t *testing.T) {
	s := NewMemoryStore()
	err := s.Create(context.Background(), &Notification{RecipientID: "a", SenderID: "a", Kind: KindLike})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMemoryMarkRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	n := &Notification{RecipientID: "alice", SenderID: "bob", Kind: KindComment, PostID: "p"}
	_ = s.Create(ctx, n)

	if _, err := s.MarkRead(ctx, n.ID, "bob"); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("foreign mark read: expected not found, got %v", err)
	}
	got, err := s.MarkRead(ctx, n.ID, "alice")
	if err != nil || !got.Read {
		t.Fatalf("MarkRead: %+v %v", got, err)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(" Like "); err != nil || k != KindLike {
		t.Errorf("ParseKind: %v %v", k, err)
	}
	if _, err := ParseKind("poke"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db), mock
}

func TestSQLCreateAndList(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO notifications`)).
		WithArgs(sqlmock.AnyArg(), "alice", "bob", "like", "p1", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Create(ctx, &Notification{RecipientID: "alice", SenderID: "bob", Kind: KindLike, PostID: "p1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	at := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC, id DESC`)).
		WithArgs("alice", DefaultLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "recipient_id", "sender_id", "kind", "post_id", "read", "created_at"}).
			AddRow("n1", "alice", "bob", "like", "p1", false, at))
	list, err := store.ListRecent(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(list) != 1 || list[0].Kind != KindLike {
		t.Errorf("unexpected list: %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLMarkReadNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE notifications SET read = TRUE`)).
		WithArgs("n1", "mallory").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.MarkRead(context.Background(), "n1", "mallory"); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("expected ErrNotificationNotFound, got %v", err)
	}
}
