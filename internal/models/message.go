package models

import "time"

// Message captures one entry in a conversation's ordered history.

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message rows are immutable after creation except for the Blocked flag and
// the Refs metadata, which moderation and the reference resolver may set.
// Tool-role messages carry a ToolCallID unique within their conversation.
type Message struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	ConversationID int64     `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Blocked        bool      `json:"blocked"`
	Template       string    `json:"template,omitempty"`
	ToolCallID     string    `json:"tool_call_id,omitempty"`
	Refs           string    `json:"refs,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
