package models

import "time"

// List is a task list. Lists nest through ParentID; the parent chain is
// always acyclic and finite.

type ListType string

const (
	ListTypePersonal     ListType = "personal"
	ListTypeProfessional ListType = "professional"
)

type ListStatus string

const (
	ListActive   ListStatus = "active"
	ListArchived ListStatus = "archived"
)

type List struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	ParentID    int64      `json:"parent_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	ListType    ListType   `json:"list_type"`
	Status      ListStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemCompleted ItemStatus = "completed"
)

type ItemPriority string

const (
	PriorityLow    ItemPriority = "low"
	PriorityMedium ItemPriority = "medium"
	PriorityHigh   ItemPriority = "high"
)

// ListItem belongs to exactly one list. Position is unique within the list
// and kept contiguous from zero by the catalog service.
type ListItem struct {
	ID        int64        `json:"id"`
	ListID    int64        `json:"list_id"`
	Title     string       `json:"title"`
	Position  int          `json:"position"`
	Status    ItemStatus   `json:"status"`
	Priority  ItemPriority `json:"priority"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
