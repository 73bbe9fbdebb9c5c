package models

import "time"

// User is an account that owns conversations and lists. OrgID scopes the
// rolling violation window; zero means no organization.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	OrgID        int64     `json:"org_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
