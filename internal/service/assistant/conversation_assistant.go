package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spaquet/listopia-sub005/internal/models"
)

// CreateConversation inserts a new conversation for the given user.
func (s *Service) CreateConversation(ctx context.Context, userID, orgID int64, title string) (*models.Conversation, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	if title == "" {
		title = "New Conversation"
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, org_id, title, status, turn_state, created_at, updated_at)
		 VALUES (?, ?, ?, 'active', 'stable', ?, ?)`,
		userID, orgID, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("conversation id: %w", err)
	}
	return &models.Conversation{
		ID:        id,
		UserID:    userID,
		OrgID:     orgID,
		Title:     title,
		Status:    models.ConversationActive,
		TurnState: models.TurnStateStable,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ListConversations returns all of a user's conversations ordered by last activity.
func (s *Service) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, org_id, COALESCE(focus_list_id, 0), title, status, turn_state, COALESCE(metadata, ''), created_at, updated_at
		 FROM conversations WHERE user_id = ? AND status != 'deleted' ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.OrgID, &c.FocusListID, &c.Title, &c.Status, &c.TurnState, &c.Metadata, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// GetConversation loads one conversation owned by the user.
func (s *Service) GetConversation(ctx context.Context, userID, conversationID int64) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, org_id, COALESCE(focus_list_id, 0), title, status, turn_state, COALESCE(metadata, ''), created_at, updated_at
		 FROM conversations WHERE id = ? AND user_id = ?`,
		conversationID, userID,
	).Scan(&c.ID, &c.UserID, &c.OrgID, &c.FocusListID, &c.Title, &c.Status, &c.TurnState, &c.Metadata, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// GetConversationWithMessages returns one conversation and its ordered messages.
func (s *Service) GetConversationWithMessages(ctx context.Context, userID, conversationID int64) (*models.Conversation, []*models.Message, error) {
	conversation, err := s.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, conversation_id, role, content, blocked, COALESCE(template, ''), COALESCE(tool_call_id, ''), COALESCE(refs, ''), created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id ASC`,
		conversationID,
	)
	if err != nil {
		return conversation, nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.UserID, &m.ConversationID, &m.Role, &m.Content, &m.Blocked, &m.Template, &m.ToolCallID, &m.Refs, &m.CreatedAt); err != nil {
			return conversation, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return conversation, messages, rows.Err()
}

// AddMessage stores a new message and touches the conversation's updated_at.
// A tool-role message must carry a tool_call_id unique within its conversation.
func (s *Service) AddMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if msg.Role == models.RoleTool && msg.ToolCallID == "" {
		return nil, errors.New("tool message requires tool_call_id")
	}
	if msg.Role == models.RoleTool {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM messages WHERE conversation_id = ? AND tool_call_id = ?)`,
			msg.ConversationID, msg.ToolCallID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("verify tool_call_id: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("tool_call_id %s already used in conversation %d", msg.ToolCallID, msg.ConversationID)
		}
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (user_id, conversation_id, role, content, blocked, template, tool_call_id, refs, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.UserID, msg.ConversationID, msg.Role, msg.Content, msg.Blocked, nullable(msg.Template), nullable(msg.ToolCallID), nullable(msg.Refs), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, msg.ConversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = now
	return &msg, nil
}

// AppendMessage persists a message for an existing conversation/user pair.
func (s *Service) AppendMessage(ctx context.Context, userID, conversationID int64, role models.Role, content string) (*models.Message, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	if conversationID <= 0 {
		return nil, errors.New("conversation_id is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversations WHERE id = ? AND user_id = ?)`,
		conversationID, userID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("verify conversation: %w", err)
	}
	if !exists {
		return nil, errors.New("conversation not found")
	}

	return s.AddMessage(ctx, models.Message{
		UserID:         userID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	})
}

// SetMessageRefs enriches a persisted message with resolved mention metadata.
func (s *Service) SetMessageRefs(ctx context.Context, messageID int64, refs string) error {
	if messageID <= 0 {
		return errors.New("invalid message id")
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE messages SET refs = ? WHERE id = ?`, refs, messageID); err != nil {
		return fmt.Errorf("set message refs: %w", err)
	}
	return nil
}

// SetMessageBlocked flips the blocked flag; the only mutable message field
// besides refs.
func (s *Service) SetMessageBlocked(ctx context.Context, messageID int64) error {
	if messageID <= 0 {
		return errors.New("invalid message id")
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE messages SET blocked = 1 WHERE id = ?`, messageID); err != nil {
		return fmt.Errorf("set message blocked: %w", err)
	}
	return nil
}

// UpdateConversationTitle sets a conversation title for the specified user.
func (s *Service) UpdateConversationTitle(ctx context.Context, userID, conversationID int64, title string) error {
	if conversationID <= 0 {
		return errors.New("invalid conversation id")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title cannot be empty")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ? WHERE id = ? AND user_id = ?`,
		title, conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("update conversation title: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetConversationFocus records the resource the conversation is focused on.
func (s *Service) SetConversationFocus(ctx context.Context, userID, conversationID, listID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET focus_list_id = ? WHERE id = ? AND user_id = ?`,
		listID, conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("set conversation focus: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetTurnState stores the stable/unstable compaction hint.
func (s *Service) SetTurnState(ctx context.Context, conversationID int64, state models.TurnState) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET turn_state = ? WHERE id = ?`, state, conversationID,
	); err != nil {
		return fmt.Errorf("set turn state: %w", err)
	}
	return nil
}

// ArchiveConversation marks a conversation archived; used by the abuse policy.
func (s *Service) ArchiveConversation(ctx context.Context, userID, conversationID int64) error {
	if conversationID <= 0 {
		return errors.New("invalid conversation id")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = 'archived', updated_at = ? WHERE id = ? AND user_id = ?`,
		time.Now().UTC(), conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteConversation removes a conversation and all related messages.
func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID int64) error {
	if conversationID <= 0 {
		return errors.New("invalid conversation id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		tx.Rollback()
		return sql.ErrNoRows
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete conversation: %w", err)
	}
	return nil
}

// ClearConversationHistory deletes all messages but keeps the conversation.
func (s *Service) ClearConversationHistory(ctx context.Context, userID, conversationID int64) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversations WHERE id = ? AND user_id = ?)`,
		conversationID, userID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("verify conversation: %w", err)
	}
	if !exists {
		return sql.ErrNoRows
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	if err := s.SetTurnState(ctx, conversationID, models.TurnStateStable); err != nil {
		return err
	}
	return nil
}

// SearchMessages finds non-blocked messages in one conversation matching the
// query, newest first.
func (s *Service) SearchMessages(ctx context.Context, userID, conversationID int64, query string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, conversation_id, role, content, blocked, COALESCE(template, ''), COALESCE(tool_call_id, ''), COALESCE(refs, ''), created_at
		 FROM messages
		 WHERE conversation_id = ? AND user_id = ? AND blocked = 0 AND content LIKE ?
		 ORDER BY id DESC LIMIT ?`,
		conversationID, userID, "%"+query+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.UserID, &m.ConversationID, &m.Role, &m.Content, &m.Blocked, &m.Template, &m.ToolCallID, &m.Refs, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
