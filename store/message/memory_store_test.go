package message

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nexus-im/ghost/internal/apperr"
)

func seedMessage(t *testing.T, s *MemoryStore, sender, text string) *Message {
	t.Helper()
	msg := &Message{ConversationID: "c1", SenderID: sender, Text: text}
	if err := s.Create(context.Background(), msg); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return msg
}

func TestCreateAssignsIdentity(t *testing.T) {
	s := NewMemoryStore()
	msg := seedMessage(t, s, "alice", "hi")

	if msg.ID == "" || msg.CreatedAt.IsZero() || msg.Version != 1 {
		t.Fatalf("identity not assigned: %+v", msg)
	}
	got, err := s.Get(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != "hi" || got.SenderID != "alice" {
		t.Errorf("unexpected message: %+v", got)
	}
}

func TestEditAuthorization(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	msg := seedMessage(t, s, "alice", "hi")

	if _, err := s.Edit(ctx, msg.ID, "bob", "x"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	got, _ := s.Get(ctx, msg.ID)
	if got.Text != "hi" || got.Edited || got.Version != 1 {
		t.Errorf("message changed by non-sender: %+v", got)
	}

	edited, err := s.Edit(ctx, msg.ID, "alice", "hello")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Text != "hello" || !edited.Edited || edited.EditedAt == nil || edited.Version != 2 {
		t.Errorf("unexpected edit result: %+v", edited)
	}
}

func TestDeleteIsTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	msg := &Message{ConversationID: "c1", SenderID: "alice", Text: "look", Media: &Media{Kind: KindImage, URL: "/uploads/a.png"}}
	if err := s.Create(ctx, msg); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.SoftDelete(ctx, msg.ID, "bob"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	deleted, err := s.SoftDelete(ctx, msg.ID, "alice")
	if err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if !deleted.Deleted || deleted.Text != "" || deleted.Media != nil {
		t.Errorf("content not cleared: %+v", deleted)
	}
	if deleted.ID != msg.ID || deleted.SenderID != "alice" || deleted.ConversationID != "c1" {
		t.Errorf("identity not preserved: %+v", deleted)
	}
	if deleted.DeletedBy != "alice" || deleted.SystemEvent != SystemEventDeleted || deleted.DeletedAt == nil {
		t.Errorf("tombstone fields missing: %+v", deleted)
	}

	if _, err := s.Edit(ctx, msg.ID, "alice", "back"); !errors.Is(err, ErrDeleted) {
		t.Errorf("edit after delete: expected ErrDeleted, got %v", err)
	}
	if _, err := s.SoftDelete(ctx, msg.ID, "alice"); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("repeat delete: expected invalid state, got %v", err)
	}
}

func TestMutateUnknownMessage(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Edit(context.Background(), "missing", "alice", "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestListByConversationOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Same timestamp for the first two; insertion order must break the tie.
	inputs := []struct {
		text string
		at   time.Time
	}{
		{"second-at-t1", base.Add(time.Second)},
		{"first-at-t0", base},
		{"third-at-t1", base.Add(time.Second)},
	}
	for _, in := range inputs {
		if err := s.Create(ctx, &Message{ConversationID: "c1", SenderID: "a", Text: in.text, CreatedAt: in.at}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	_ = s.Create(ctx, &Message{ConversationID: "other", SenderID: "a", Text: "elsewhere"})

	for i := 0; i < 3; i++ {
		msgs, err := s.ListByConversation(ctx, "c1")
		if err != nil {
			t.Fatalf("ListByConversation: %v", err)
		}
		want := []string{"first-at-t0", "second-at-t1", "third-at-t1"}
		if len(msgs) != len(want) {
			t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
		}
		for j, m := range msgs {
			if m.Text != want[j] {
				t.Errorf("position %d: got %q, want %q", j, m.Text, want[j])
			}
		}
	}
}

func TestConcurrentEditAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	msg := seedMessage(t, s, "alice", "hi")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Edit(ctx, msg.ID, "alice", "edited")
		}()
		go func() {
			defer wg.Done()
			_, _ = s.SoftDelete(ctx, msg.ID, "alice")
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, msg.ID)
	if !got.Deleted || got.Text != "" {
		t.Fatalf("a delete must win over any later edit: %+v", got)
	}
}

func TestLatestActivity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_ = s.Create(ctx, &Message{ConversationID: "c1", SenderID: "a", Text: "x", CreatedAt: base})
	_ = s.Create(ctx, &Message{ConversationID: "c1", SenderID: "a", Text: "y", CreatedAt: base.Add(time.Minute)})

	latest, err := s.LatestActivity(ctx, []string{"c1", "empty"})
	if err != nil {
		t.Fatalf("LatestActivity: %v", err)
	}
	if !latest["c1"].Equal(base.Add(time.Minute)) {
		t.Errorf("c1 latest = %v", latest["c1"])
	}
	if _, ok := latest["empty"]; ok {
		t.Error("conversation without messages must be absent")
	}
}
