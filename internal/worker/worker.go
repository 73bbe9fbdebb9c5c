package worker

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/spaquet/listopia-sub005/internal/models"
	"github.com/spaquet/listopia-sub005/internal/service/ai"
	"github.com/spaquet/listopia-sub005/internal/service/catalog"
)

// userWorker serializes one user's turns. It dies after sitting idle and
// gets respawned on the next submission.
type userWorker struct {
	userID int64
	taskCh chan Job
	stopCh chan struct{}

	// agents are keyed by provider/model, built lazily, and only touched
	// by this worker's goroutine.
	agents map[string]*ai.Service
}

func (w *userWorker) run(m *Manager) {
	idle := time.NewTimer(m.idleTimeout())
	defer idle.Stop()
	for {
		select {
		case job := <-w.taskCh:
			m.process(w, job)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.idleTimeout())
		case <-idle.C:
			if m.tryPurge(w) {
				return
			}
			idle.Reset(m.idleTimeout())
		case <-w.stopCh:
			return
		}
	}
}

// agentFor returns the cached agent for a provider/model pair, building it
// on first use. A changed API key rebuilds the agent.
func (w *userWorker) agentFor(ctx context.Context, provider, model, token string, cat *catalog.Service) (*ai.Service, error) {
	key := provider + "/" + model + "/" + fingerprint(token)
	if svc, ok := w.agents[key]; ok {
		return svc, nil
	}
	svc, err := ai.NewService(ctx, provider, model, token, cat)
	if err != nil {
		return nil, err
	}
	w.agents[key] = svc
	return svc, nil
}

// fingerprint shortens a secret to a cache key component without keeping
// the secret around in full.
func fingerprint(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:4] + token[len(token)-4:]
}

// turnRecorder persists tool-role messages as the agent invokes tools and
// remembers which lists the turn touched.
type turnRecorder struct {
	manager *Manager

	mu  sync.Mutex
	ids []int64
}

// RecordToolCall stores one tool-role message carrying the structured
// result, then notes any list the call touched.
func (r *turnRecorder) RecordToolCall(ctx context.Context, sess ai.ToolSession, toolName, callID string, result catalog.Result) {
	if _, err := r.manager.store.AddMessage(ctx, models.Message{
		UserID:         sess.UserID,
		ConversationID: sess.ConversationID,
		Role:           models.RoleTool,
		Content:        result.JSON(),
		ToolCallID:     callID,
	}); err != nil {
		log.Printf("worker: record %s call: %v", toolName, err)
	}
	r.noteRefs(result)
}

// noteRefs pulls list ids out of result payloads so the turn's user message
// can be annotated afterwards.
func (r *turnRecorder) noteRefs(result catalog.Result) {
	if !result.OK || len(result.Payload) == 0 {
		return
	}
	var probe struct {
		ListID int64 `json:"list_id"`
		List   struct {
			ID int64 `json:"id"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result.Payload, &probe); err != nil {
		return
	}
	id := probe.ListID
	if id == 0 {
		id = probe.List.ID
	}
	if id == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, seen := range r.ids {
		if seen == id {
			return
		}
	}
	r.ids = append(r.ids, id)
}

func (r *turnRecorder) listIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.ids...)
}
