package models

import "time"

// SecurityViolation is an append-only audit record. Rows are never mutated
// or deleted by the pipeline.

type ViolationType string

const (
	ViolationInjection  ViolationType = "prompt_injection"
	ViolationSelfHarm   ViolationType = "self_harm"
	ViolationSexual     ViolationType = "sexual"
	ViolationViolence   ViolationType = "violence"
	ViolationHarassment ViolationType = "harassment"
	ViolationHate       ViolationType = "hate"
	ViolationOther      ViolationType = "other"
)

type ViolationAction string

const (
	ActionBlocked ViolationAction = "blocked"
	ActionWarned  ViolationAction = "warned"
)

type SecurityViolation struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	OrgID          int64           `json:"org_id,omitempty"`
	ConversationID int64           `json:"conversation_id,omitempty"`
	MessageID      int64           `json:"message_id,omitempty"`
	ViolationType  ViolationType   `json:"violation_type"`
	Action         ViolationAction `json:"action"`
	Patterns       string          `json:"patterns,omitempty"`
	RiskScore      float64         `json:"risk_score"`
	CreatedAt      time.Time       `json:"created_at"`
}
