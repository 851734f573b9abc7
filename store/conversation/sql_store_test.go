package conversation

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

var (
	selectByPair = regexp.QuoteMeta(`SELECT id, member_low, member_high, created_at
		FROM conversations
		WHERE member_low = $1 AND member_high = $2`)
	insertConversation = regexp.QuoteMeta(`INSERT INTO conversations (id, member_low, member_high, created_at)`)
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db), mock
}

func TestSQLGetOrCreateReturnsExisting(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(selectByPair).
		WithArgs("alice", "bob").
		WillReturnRows(sqlmock.NewRows([]string{"id", "member_low", "member_high", "created_at"}).
			AddRow("c-1", "alice", "bob", created))

	convo, isNew, err := store.GetOrCreate(context.Background(), "bob", "alice")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if isNew {
		t.Error("expected existing conversation")
	}
	if convo.ID != "c-1" || !convo.CreatedAt.Equal(created) {
		t.Errorf("unexpected conversation: %+v", convo)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLGetOrCreateInserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(selectByPair).
		WithArgs("alice", "bob").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(insertConversation).
		WithArgs(sqlmock.AnyArg(), "alice", "bob", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	convo, isNew, err := store.GetOrCreate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !isNew {
		t.Error("expected a new conversation")
	}
	if convo.ID == "" {
		t.Error("expected generated id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLGetOrCreateRereadsAfterLostRace(t *testing.T) {
	t.Run("on conflict do nothing", func(t *testing.T) {
		store, mock := newMockStore(t)
		rows := sqlmock.NewRows([]string{"id", "member_low", "member_high", "created_at"}).
			AddRow("winner", "alice", "bob", time.Now())

		mock.ExpectQuery(selectByPair).WithArgs("alice", "bob").WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(insertConversation).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(selectByPair).WithArgs("alice", "bob").WillReturnRows(rows)

		convo, isNew, err := store.GetOrCreate(context.Background(), "alice", "bob")
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		if isNew || convo.ID != "winner" {
			t.Errorf("expected the concurrent winner, got %+v (new=%v)", convo, isNew)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("unique violation", func(t *testing.T) {
		store, mock := newMockStore(t)
		rows := sqlmock.NewRows([]string{"id", "member_low", "member_high", "created_at"}).
			AddRow("winner", "alice", "bob", time.Now())

		mock.ExpectQuery(selectByPair).WithArgs("alice", "bob").WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(insertConversation).WillReturnError(&pq.Error{Code: uniqueViolation})
		mock.ExpectQuery(selectByPair).WithArgs("alice", "bob").WillReturnRows(rows)

		convo, _, err := store.GetOrCreate(context.Background(), "alice", "bob")
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		if convo.ID != "winner" {
			t.Errorf("expected the concurrent winner, got %s", convo.ID)
		}
	})
}

func TestSQLGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM conversations`)).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Get(context.Background(), "nope"); err != ErrConversationNotFound {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}
