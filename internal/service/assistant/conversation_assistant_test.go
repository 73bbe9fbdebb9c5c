package assistant

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spaquet/listopia-sub005/internal/models"
	"github.com/spaquet/listopia-sub005/internal/storage"
)

func newTestStore(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := NewService(db)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return s
}

func seedConversation(t *testing.T, s *Service) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	user, err := s.RegisterUser(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	conv, err := s.CreateConversation(ctx, user.ID, 0, "")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	return user.ID, conv.ID
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.RegisterUser(ctx, "bob", "hunter22"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.RegisterUser(ctx, "bob", "hunter22"); err == nil {
		t.Fatal("duplicate username must be rejected")
	}
	if _, err := s.Login(ctx, "bob", "hunter22"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := s.Login(ctx, "bob", "wrong"); err == nil {
		t.Fatal("wrong password must be rejected")
	}
}

func TestToolCallIDUniquePerConversation(t *testing.T) {
	s := newTestStore(t)
	userID, convID := seedConversation(t, s)
	ctx := context.Background()

	base := models.Message{
		UserID:         userID,
		ConversationID: convID,
		Role:           models.RoleTool,
		Content:        `{"ok":true}`,
		ToolCallID:     "call-1",
	}
	if _, err := s.AddMessage(ctx, base); err != nil {
		t.Fatalf("first tool message: %v", err)
	}
	if _, err := s.AddMessage(ctx, base); err == nil {
		t.Fatal("duplicate tool_call_id in one conversation must be rejected")
	}

	// Same id in another conversation is fine.
	conv2, err := s.CreateConversation(ctx, userID, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	base.ConversationID = conv2.ID
	if _, err := s.AddMessage(ctx, base); err != nil {
		t.Fatalf("same id, other conversation: %v", err)
	}

	noID := base
	noID.ToolCallID = ""
	if _, err := s.AddMessage(ctx, noID); err == nil {
		t.Fatal("tool message without tool_call_id must be rejected")
	}
}

func TestSearchSkipsBlockedMessages(t *testing.T) {
	s := newTestStore(t)
	userID, convID := seedConversation(t, s)
	ctx := context.Background()

	visible, err := s.AppendMessage(ctx, userID, convID, models.RoleUser, "roadshow budget is $40k")
	if err != nil {
		t.Fatal(err)
	}
	flagged, err := s.AppendMessage(ctx, userID, convID, models.RoleUser, "budget for something nasty")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetMessageBlocked(ctx, flagged.ID); err != nil {
		t.Fatal(err)
	}

	hits, err := s.SearchMessages(ctx, userID, convID, "budget", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != visible.ID {
		t.Fatalf("blocked message leaked into search: %+v", hits)
	}
}

func TestArchiveStopsNothingElse(t *testing.T) {
	s := newTestStore(t)
	userID, convID := seedConversation(t, s)
	ctx := context.Background()

	if err := s.ArchiveConversation(ctx, userID, convID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	conv, err := s.GetConversation(ctx, userID, convID)
	if err != nil {
		t.Fatal(err)
	}
	if conv.Status != models.ConversationArchived {
		t.Fatalf("want archived, got %s", conv.Status)
	}
	if err := s.ArchiveConversation(ctx, userID, 9999); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("archiving a missing conversation: want ErrNoRows, got %v", err)
	}
}

func TestClearHistoryResetsTurnState(t *testing.T) {
	s := newTestStore(t)
	userID, convID := seedConversation(t, s)
	ctx := context.Background()

	if _, err := s.AppendMessage(ctx, userID, convID, models.RoleUser, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTurnState(ctx, convID, models.TurnStateUnstable); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearConversationHistory(ctx, userID, convID); err != nil {
		t.Fatalf("clear: %v", err)
	}

	conv, msgs, err := s.GetConversationWithMessages(ctx, userID, convID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("history must be empty, got %d", len(msgs))
	}
	if conv.TurnState != models.TurnStateStable {
		t.Fatalf("turn state must reset to stable, got %s", conv.TurnState)
	}
}
