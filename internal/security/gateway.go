package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spaquet/listopia-sub005/internal/models"
	"github.com/spaquet/listopia-sub005/internal/redis"
)

// PolicyRejection is the only text a screened-out user ever sees; detail goes
// to the audit log.
const PolicyRejection = "I can't help with that request."

// ViolationStore persists audit records and applies the archive policy.
type ViolationStore interface {
	RecordViolation(ctx context.Context, v models.SecurityViolation) (int64, error)
	CountRecentViolations(ctx context.Context, orgID, userID int64, cutoff time.Time) (int, error)
	ArchiveConversation(ctx context.Context, userID, conversationID int64) error
	SetMessageBlocked(ctx context.Context, messageID int64) error
}

// ScreenRequest is the explicit per-request context every check receives.
type ScreenRequest struct {
	UserID         int64
	OrgID          int64
	ConversationID int64
	FocusListID    int64
	Text           string
}

// InjectionVerdict is the outcome of the pre-persist injection check.
type InjectionVerdict struct {
	Result   InjectionResult
	Rejected bool
}

// ModerationVerdict is the outcome of the post-persist content check.
type ModerationVerdict struct {
	Blocked  bool
	Archived bool
	Type     models.ViolationType
}

// Gateway sequences the two inbound checks and owns the violation policy.
type Gateway struct {
	classifier Classifier
	store      ViolationStore
	cache      *redis.Client
	threshold  int
	window     time.Duration
}

// NewGateway wires the gateway. classifier may be nil (moderation disabled);
// cache may be nil (window counting falls back to the violations table).
func NewGateway(classifier Classifier, store ViolationStore, cache *redis.Client, threshold int, window time.Duration) *Gateway {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = time.Hour
	}
	return &Gateway{
		classifier: classifier,
		store:      store,
		cache:      cache,
		threshold:  threshold,
		window:     window,
	}
}

// ScreenInjection runs the heuristic injection scan. High risk rejects the
// message before anything is persisted and logs a blocked violation; medium
// risk lets the message through with a warned violation.
func (g *Gateway) ScreenInjection(ctx context.Context, req ScreenRequest) InjectionVerdict {
	result := DetectInjection(req.Text)
	verdict := InjectionVerdict{Result: result}
	if !result.Detected {
		return verdict
	}

	action := models.ActionWarned
	if result.Risk == RiskHigh {
		action = models.ActionBlocked
		verdict.Rejected = true
	}
	g.record(ctx, models.SecurityViolation{
		UserID:         req.UserID,
		OrgID:          req.OrgID,
		ConversationID: req.ConversationID,
		ViolationType:  models.ViolationInjection,
		Action:         action,
		Patterns:       encodePatterns(result.Patterns),
		RiskScore:      result.Score,
	})
	return verdict
}

// ScreenContent moderates an already-persisted message. A flagged verdict
// marks the message blocked, logs the violation, and archives the
// conversation once the org's rolling violation count crosses the threshold.
// Classifier failures fail open: the turn proceeds and the outage is logged.
func (g *Gateway) ScreenContent(ctx context.Context, req ScreenRequest, msg *models.Message) ModerationVerdict {
	if g.classifier == nil || msg == nil {
		return ModerationVerdict{}
	}
	result, err := g.classifier.Classify(ctx, req.Text)
	if err != nil {
		log.Printf("moderation boundary unavailable, failing open: %v", err)
		return ModerationVerdict{}
	}
	if !result.Flagged {
		return ModerationVerdict{}
	}

	verdict := ModerationVerdict{Blocked: true, Type: result.Dominant()}
	if err := g.store.SetMessageBlocked(ctx, msg.ID); err != nil {
		log.Printf("mark message %d blocked failed: %v", msg.ID, err)
	}
	g.record(ctx, models.SecurityViolation{
		UserID:         req.UserID,
		OrgID:          req.OrgID,
		ConversationID: req.ConversationID,
		MessageID:      msg.ID,
		ViolationType:  verdict.Type,
		Action:         models.ActionBlocked,
		RiskScore:      result.MaxScore(),
	})

	if g.violationCount(ctx, req) >= g.threshold {
		if err := g.store.ArchiveConversation(ctx, req.UserID, req.ConversationID); err != nil {
			log.Printf("auto-archive conversation %d failed: %v", req.ConversationID, err)
		} else {
			verdict.Archived = true
		}
	}
	return verdict
}

// violationCount returns the rolling count of blocked violations inside the
// trailing window, scoped to the org (user when no org). Redis keeps the
// window when available; otherwise the violations table is consulted.
func (g *Gateway) violationCount(ctx context.Context, req ScreenRequest) int {
	now := time.Now().UTC()
	if g.cache != nil {
		key := windowKey(req.OrgID, req.UserID)
		if count, err := g.cache.CountInWindow(ctx, key, now, g.window); err == nil {
			return int(count)
		} else {
			log.Printf("violation window via redis failed: %v", err)
		}
	}
	count, err := g.store.CountRecentViolations(ctx, req.OrgID, req.UserID, now.Add(-g.window))
	if err != nil {
		log.Printf("violation window via store failed: %v", err)
		return 0
	}
	return count
}

// record appends the audit row. A failed write never fails the parent request.
func (g *Gateway) record(ctx context.Context, v models.SecurityViolation) {
	if g.store == nil {
		return
	}
	if _, err := g.store.RecordViolation(ctx, v); err != nil {
		log.Printf("security violation log write failed: %v", err)
	}
}

func windowKey(orgID, userID int64) string {
	if orgID > 0 {
		return fmt.Sprintf("sec:viol:org:%d", orgID)
	}
	return fmt.Sprintf("sec:viol:user:%d", userID)
}

func encodePatterns(patterns []string) string {
	if len(patterns) == 0 {
		return ""
	}
	data, err := json.Marshal(patterns)
	if err != nil {
		return ""
	}
	return string(data)
}
