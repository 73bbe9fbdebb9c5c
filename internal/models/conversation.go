package models

import "time"

// Conversation groups a sequence of messages between one user and the assistant.

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
	ConversationDeleted  ConversationStatus = "deleted"
)

// TurnState is a coarse conversation-level marker: "unstable" means the
// history has grown past the token budget and compaction is advisable. It is
// an optimization hint, never a correctness requirement for a single turn.
type TurnState string

const (
	TurnStateStable   TurnState = "stable"
	TurnStateUnstable TurnState = "unstable"
)

type Conversation struct {
	ID          int64              `json:"id"`
	UserID      int64              `json:"user_id"`
	OrgID       int64              `json:"org_id,omitempty"`
	FocusListID int64              `json:"focus_list_id,omitempty"`
	Title       string             `json:"title"`
	Status      ConversationStatus `json:"status"`
	TurnState   TurnState          `json:"turn_state"`
	Metadata    string             `json:"metadata,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
