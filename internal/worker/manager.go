package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/spaquet/listopia-sub005/internal/broadcast"
	"github.com/spaquet/listopia-sub005/internal/config"
	"github.com/spaquet/listopia-sub005/internal/models"
	"github.com/spaquet/listopia-sub005/internal/service/ai"
	"github.com/spaquet/listopia-sub005/internal/service/assistant"
	"github.com/spaquet/listopia-sub005/internal/service/catalog"
)

// failureReply is the only text a user sees when a turn dies; the cause
// goes to the log.
const failureReply = "Something went wrong while working on that. Please try again."

var (
	ErrBusy      = errors.New("worker queue full")
	ErrDuplicate = errors.New("message already queued")
)

// seenLimit caps the duplicate-detection set; the oldest message ids are
// evicted first. Live jobs sit in bounded queues, so anything old enough to
// be evicted has long since finished.
const seenLimit = 4096

// Job is one natural-language turn to run through the agent. Jobs are keyed
// by the persisted user message; submitting the same message twice is a no-op.
type Job struct {
	MessageID      int64
	UserID         int64
	OrgID          int64
	ConversationID int64
	Provider       string
	Model          string
}

// Manager runs one worker goroutine per active user. A user's turns execute
// in submission order; different users run concurrently.
type Manager struct {
	cfg     *config.Config
	store   *assistant.Service
	catalog *catalog.Service
	hub     *broadcast.Hub
	count   tokenCounter

	mu        sync.Mutex
	workers   map[int64]*userWorker
	seen      map[int64]struct{}
	seenOrder []int64
	stopped   bool
	wg        sync.WaitGroup
}

func NewManager(cfg *config.Config, store *assistant.Service, cat *catalog.Service, hub *broadcast.Hub) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   store,
		catalog: cat,
		hub:     hub,
		count:   newTokenCounter(),
		workers: map[int64]*userWorker{},
		seen:    map[int64]struct{}{},
	}
}

// Submit queues a job on the submitting user's worker, spawning it on
// first use.
func (m *Manager) Submit(job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return errors.New("worker manager stopped")
	}
	if _, dup := m.seen[job.MessageID]; dup {
		return ErrDuplicate
	}

	w, ok := m.workers[job.UserID]
	if !ok {
		if max := m.cfg.BasicConfig.MaxWorkers; max > 0 && len(m.workers) >= max {
			return ErrBusy
		}
		w = &userWorker{
			userID: job.UserID,
			taskCh: make(chan Job, m.queueSize()),
			stopCh: make(chan struct{}),
			agents: map[string]*ai.Service{},
		}
		m.workers[job.UserID] = w
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			w.run(m)
		}()
		debugf("spawned worker for user %d", job.UserID)
	}

	select {
	case w.taskCh <- job:
		m.markSeen(job.MessageID)
		return nil
	default:
		return ErrBusy
	}
}

// markSeen records a queued message id, evicting the oldest entries once
// the set is full. Callers hold m.mu.
func (m *Manager) markSeen(id int64) {
	for len(m.seen) >= seenLimit {
		oldest := m.seenOrder[0]
		m.seenOrder = m.seenOrder[1:]
		delete(m.seen, oldest)
	}
	m.seen[id] = struct{}{}
	m.seenOrder = append(m.seenOrder, id)
}

func (m *Manager) queueSize() int {
	if m.cfg.BasicConfig.QueueSize > 0 {
		return m.cfg.BasicConfig.QueueSize
	}
	return 16
}

func (m *Manager) idleTimeout() time.Duration {
	if m.cfg.BasicConfig.WorkerIdleTimeout > 0 {
		return time.Duration(m.cfg.BasicConfig.WorkerIdleTimeout) * time.Minute
	}
	return 5 * time.Minute
}

func (m *Manager) turnTimeout() time.Duration {
	if m.cfg.BasicConfig.TurnTimeoutSeconds > 0 {
		return time.Duration(m.cfg.BasicConfig.TurnTimeoutSeconds) * time.Second
	}
	return 2 * time.Minute
}

// tryPurge removes an idle worker unless work snuck into its queue.
func (m *Manager) tryPurge(w *userWorker) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(w.taskCh) > 0 {
		return false
	}
	if m.workers[w.userID] == w {
		delete(m.workers, w.userID)
	}
	debugf("purged idle worker for user %d", w.userID)
	return true
}

// Stop shuts all workers down and waits for in-flight turns.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	for _, w := range m.workers {
		close(w.stopCh)
	}
	m.workers = map[int64]*userWorker{}
	m.mu.Unlock()
	m.wg.Wait()
}

// process runs one turn end to end. Every exit path leaves the turn in a
// terminal phase and the user with a reply.
func (m *Manager) process(w *userWorker, job Job) {
	turn := NewTurn(job.MessageID)
	debugf("turn %d: %s", job.MessageID, turn.Phase())

	ctx, cancel := context.WithTimeout(context.Background(), m.turnTimeout())
	defer cancel()

	// Inbound screening ran synchronously before the job was queued.
	turn.Advance(PhaseScreened)
	turn.Advance(PhaseRouted)

	conv, history, err := m.store.GetConversationWithMessages(ctx, job.UserID, job.ConversationID)
	if err != nil {
		m.fail(ctx, turn, job, fmt.Errorf("load conversation: %w", err))
		return
	}
	if conv.Status != models.ConversationActive {
		m.fail(ctx, turn, job, fmt.Errorf("conversation %d is %s", conv.ID, conv.Status))
		return
	}

	msgs := toSchema(history)
	msgs, trimmed := trimHistory(msgs, m.cfg.BasicConfig.HistoryTokenBudget, m.count)
	state := models.TurnStateStable
	if trimmed {
		state = models.TurnStateUnstable
	}
	if conv.TurnState != state {
		if err := m.store.SetTurnState(ctx, conv.ID, state); err != nil {
			log.Printf("worker: set turn state: %v", err)
		}
	}

	token, err := m.store.EnsureAIReady(ctx, job.UserID, job.Provider)
	if err != nil {
		m.fail(ctx, turn, job, fmt.Errorf("provider not ready: %w", err))
		return
	}
	svc, err := w.agentFor(ctx, job.Provider, job.Model, token, m.catalog)
	if err != nil {
		m.fail(ctx, turn, job, fmt.Errorf("build agent: %w", err))
		return
	}

	rec := &turnRecorder{manager: m}
	sess := ai.ToolSession{
		UserID:         job.UserID,
		ConversationID: job.ConversationID,
		FocusListID:    conv.FocusListID,
	}
	ctx = ai.WithToolSession(ctx, sess)
	ctx = ai.WithToolRecorder(ctx, rec)

	turn.Advance(PhaseExecuting)
	debugf("turn %d: %s", job.MessageID, turn.Phase())

	out, err := svc.Run(ctx, msgs)
	if err != nil {
		m.fail(ctx, turn, job, fmt.Errorf("agent: %w", err))
		return
	}

	reply, err := m.store.AppendMessage(ctx, job.UserID, job.ConversationID, models.RoleAssistant, out.Content)
	if err != nil {
		m.fail(ctx, turn, job, fmt.Errorf("persist reply: %w", err))
		return
	}
	m.finishTurn(ctx, job, conv, rec, token, len(history))

	turn.Advance(PhaseCompleted)
	debugf("turn %d: %s", job.MessageID, turn.Phase())
	m.hub.Publish(broadcast.DashboardScope(job.UserID), "turn_completed", map[string]any{
		"conversation_id": job.ConversationID,
		"message_id":      reply.ID,
	})
}

// finishTurn applies the after-effects of a successful turn: ref
// annotations, focus tracking, and a title for brand-new conversations.
// All best effort.
func (m *Manager) finishTurn(ctx context.Context, job Job, conv *models.Conversation, rec *turnRecorder, token string, priorMessages int) {
	if ids := rec.listIDs(); len(ids) > 0 {
		if refs, err := json.Marshal(ids); err == nil {
			if err := m.store.SetMessageRefs(ctx, job.MessageID, string(refs)); err != nil {
				log.Printf("worker: set refs on message %d: %v", job.MessageID, err)
			}
		}
		if err := m.store.SetConversationFocus(ctx, job.UserID, job.ConversationID, ids[len(ids)-1]); err != nil {
			log.Printf("worker: set focus on conversation %d: %v", job.ConversationID, err)
		}
	}

	if priorMessages <= 1 && conv.Title == "New Conversation" {
		titleSvc, err := assistant.NewAssistantService(job.Provider, job.Model, token)
		if err != nil {
			log.Printf("worker: title model: %v", err)
			return
		}
		_, history, err := m.store.GetConversationWithMessages(ctx, job.UserID, job.ConversationID)
		if err != nil || len(history) == 0 {
			return
		}
		title, err := titleSvc.GenerateTitle(ctx, history[:1])
		if err != nil || title == "" {
			return
		}
		if err := m.store.UpdateConversationTitle(ctx, job.UserID, job.ConversationID, title); err != nil {
			log.Printf("worker: update title: %v", err)
		}
	}
}

// fail drives the turn to its terminal failed phase and tells the user
// something generic; the real cause stays in the log.
func (m *Manager) fail(ctx context.Context, turn *Turn, job Job, cause error) {
	log.Printf("worker: turn %d failed: %v", job.MessageID, cause)
	if !turn.Terminal() {
		turn.Advance(PhaseFailed)
	}
	if _, err := m.store.AppendMessage(ctx, job.UserID, job.ConversationID, models.RoleAssistant, failureReply); err != nil {
		// The turn context may already be dead; persist with a fresh one.
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := m.store.AppendMessage(sctx, job.UserID, job.ConversationID, models.RoleAssistant, failureReply); err != nil {
			log.Printf("worker: persist failure reply: %v", err)
		}
	}
	m.hub.Publish(broadcast.DashboardScope(job.UserID), "turn_failed", map[string]any{
		"conversation_id": job.ConversationID,
		"message_id":      job.MessageID,
	})
}
