package worker

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spaquet/listopia-sub005/internal/broadcast"
	"github.com/spaquet/listopia-sub005/internal/config"
	"github.com/spaquet/listopia-sub005/internal/models"
	"github.com/spaquet/listopia-sub005/internal/service/assistant"
	"github.com/spaquet/listopia-sub005/internal/service/catalog"
	"github.com/spaquet/listopia-sub005/internal/service/resolver"
	"github.com/spaquet/listopia-sub005/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, *assistant.Service) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := assistant.NewService(db)
	if err != nil {
		t.Fatalf("assistant service: %v", err)
	}
	cfg := &config.Config{BasicConfig: config.BasicConfig{
		QueueSize:          4,
		TurnTimeoutSeconds: 5,
		HistoryTokenBudget: 24000,
	}}
	cat := catalog.NewService(db, resolver.New(db), nil)
	m := NewManager(cfg, store, cat, broadcast.NewHub())
	t.Cleanup(m.Stop)
	return m, store
}

func seedTurn(t *testing.T, store *assistant.Service) Job {
	t.Helper()
	ctx := context.Background()
	user, err := store.RegisterUser(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	conv, err := store.CreateConversation(ctx, user.ID, 0, "")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	msg, err := store.AppendMessage(ctx, user.ID, conv.ID, models.RoleUser, "add milk to my list")
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	return Job{
		MessageID:      msg.ID,
		UserID:         user.ID,
		ConversationID: conv.ID,
		Provider:       "openai",
	}
}

func TestSubmitDeduplicatesByMessageID(t *testing.T) {
	m, store := newTestManager(t)
	job := seedTurn(t, store)

	if err := m.Submit(job); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := m.Submit(job); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second submit: want ErrDuplicate, got %v", err)
	}
}

// With no API key configured the turn must fail closed: terminal phase,
// generic assistant reply persisted, nothing hangs.
func TestFailedTurnLeavesGenericReply(t *testing.T) {
	m, store := newTestManager(t)
	job := seedTurn(t, store)

	if err := m.Submit(job); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, msgs, err := store.GetConversationWithMessages(context.Background(), job.UserID, job.ConversationID)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(msgs) >= 2 {
			last := msgs[len(msgs)-1]
			if last.Role != models.RoleAssistant || last.Content != failureReply {
				t.Fatalf("want generic failure reply, got %s %q", last.Role, last.Content)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("turn never produced a reply")
}

func TestSeenSetStaysBounded(t *testing.T) {
	m, _ := newTestManager(t)

	m.mu.Lock()
	for id := int64(1); id <= seenLimit+100; id++ {
		m.markSeen(id)
	}
	size := len(m.seen)
	_, oldestKept := m.seen[int64(1)]
	_, newestKept := m.seen[int64(seenLimit+100)]
	m.mu.Unlock()

	if size != seenLimit {
		t.Fatalf("seen set must cap at %d, got %d", seenLimit, size)
	}
	if oldestKept {
		t.Fatal("oldest entry should have been evicted")
	}
	if !newestKept {
		t.Fatal("newest entry missing from the set")
	}
}

func TestSubmitRespectsWorkerCap(t *testing.T) {
	m, store := newTestManager(t)
	m.cfg.BasicConfig.MaxWorkers = 1
	job := seedTurn(t, store)

	if err := m.Submit(job); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	other := job
	other.MessageID++
	other.UserID++
	if err := m.Submit(other); !errors.Is(err, ErrBusy) {
		t.Fatalf("second user past cap: want ErrBusy, got %v", err)
	}
}
