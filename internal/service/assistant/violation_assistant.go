package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spaquet/listopia-sub005/internal/models"
)

// RecordViolation appends one security audit row. The table is append-only;
// nothing in the pipeline updates or deletes rows.
func (s *Service) RecordViolation(ctx context.Context, v models.SecurityViolation) (int64, error) {
	if v.UserID <= 0 {
		return 0, errors.New("user_id is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO security_violations (user_id, org_id, conversation_id, message_id, violation_type, action, patterns, risk_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.UserID, v.OrgID, zeroNull(v.ConversationID), zeroNull(v.MessageID), v.ViolationType, v.Action, nullable(v.Patterns), v.RiskScore, now,
	)
	if err != nil {
		return 0, fmt.Errorf("record violation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("violation id: %w", err)
	}
	return id, nil
}

// CountRecentViolations counts blocked violations inside the trailing window,
// scoped to the org when one is set, otherwise to the user.
func (s *Service) CountRecentViolations(ctx context.Context, orgID, userID int64, cutoff time.Time) (int, error) {
	var (
		count int
		err   error
	)
	if orgID > 0 {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM security_violations WHERE org_id = ? AND action = 'blocked' AND created_at > ?`,
			orgID, cutoff,
		).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM security_violations WHERE user_id = ? AND action = 'blocked' AND created_at > ?`,
			userID, cutoff,
		).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return count, nil
}

func zeroNull(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
