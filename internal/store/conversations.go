package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"juris/internal/logging"
	"juris/internal/types"

	"github.com/google/uuid"
)

const conversationColumns = "id, user_id, title, persona, pinned, created_at, updated_at"

// CreateConversation inserts a conversation, assigning ID and timestamps.
func (s *Store) CreateConversation(ctx context.Context, c *types.Conversation) (*types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, persona, pinned, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, c.Persona, boolToInt(c.Pinned), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		logging.StoreError("Failed to create conversation for user=%s: %v", c.UserID, err)
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	logging.StoreDebug("Created conversation id=%s user=%s persona=%s", c.ID, c.UserID, c.Persona)
	return c, nil
}

// GetConversation returns a live conversation owned by userID. An empty
// userID skips the ownership check (public share views).
func (s *Store) GetConversation(ctx context.Context, userID, id string) (*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + conversationColumns + " FROM conversations WHERE id = ? AND deleted_at IS NULL"
	args := []interface{}{id}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	c, err := scanConversation(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("conversation", id)
	}
	return c, err
}

// ListConversations returns the user's live conversations, pinned first and
// then most recently updated.
func (s *Store) ListConversations(ctx context.Context, userID string, f types.ConversationFilter) ([]*types.Conversation, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListConversations")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	query := "SELECT " + conversationColumns + " FROM conversations WHERE user_id = ? AND deleted_at IS NULL"
	args := []interface{}{userID}
	if f.Keyword != "" {
		query += " AND title LIKE ? ESCAPE '\\'"
		args = append(args, "%"+escapeLike(f.Keyword)+"%")
	}
	query += " ORDER BY pinned DESC, updated_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*types.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RenameConversation sets the title.
func (s *Store) RenameConversation(ctx context.Context, userID, id, title string) error {
	return s.updateConversation(ctx, userID, id, "title = ?", title)
}

// SetConversationPinned pins or unpins a conversation.
func (s *Store) SetConversationPinned(ctx context.Context, userID, id string, pinned bool) error {
	return s.updateConversation(ctx, userID, id, "pinned = ?", boolToInt(pinned))
}

// SetConversationPersona switches the persona used for new answers.
func (s *Store) SetConversationPersona(ctx context.Context, userID, id, persona string) error {
	return s.updateConversation(ctx, userID, id, "persona = ?", persona)
}

// DeleteConversation soft-deletes a conversation.
func (s *Store) DeleteConversation(ctx context.Context, userID, id string) error {
	return s.updateConversation(ctx, userID, id, "deleted_at = ?", s.now())
}

func (s *Store) updateConversation(ctx context.Context, userID, id, set string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "UPDATE conversations SET " + set + ", updated_at = ? WHERE id = ? AND deleted_at IS NULL"
	args = append(args, s.now(), id)
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("conversation", id)
	}
	return nil
}

func scanConversation(r rowScanner) (*types.Conversation, error) {
	var c types.Conversation
	var pinned int
	if err := r.Scan(&c.ID, &c.UserID, &c.Title, &c.Persona, &pinned, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Pinned = pinned != 0
	return &c, nil
}

// escapeLike escapes LIKE wildcards so keywords match literally.
func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
