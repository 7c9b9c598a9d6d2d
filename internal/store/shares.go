package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"juris/internal/logging"
	"juris/internal/types"
)

const shareColumns = "token, conversation_id, user_id, expires_at, revoked, view_count, created_at"

// CreateShare inserts a share link. The token is supplied by the caller.
func (s *Store) CreateShare(ctx context.Context, l *types.ShareLink) (*types.ShareLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.CreatedAt = s.now()
	var expires sql.NullTime
	if l.ExpiresAt != nil {
		expires = sql.NullTime{Time: l.ExpiresAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO share_links (token, conversation_id, user_id, expires_at, revoked, view_count, created_at)
		 VALUES (?, ?, ?, ?, 0, 0, ?)`,
		l.Token, l.ConversationID, l.UserID, expires, l.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("share token collision: %w", types.ErrConflict)
		}
		return nil, fmt.Errorf("create share: %w", err)
	}
	logging.StoreDebug("Created share link for conversation=%s", l.ConversationID)
	return l, nil
}

// GetShare returns a share link by token, whatever its state.
func (s *Store) GetShare(ctx context.Context, token string) (*types.ShareLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, err := scanShare(s.db.QueryRowContext(ctx, "SELECT "+shareColumns+" FROM share_links WHERE token = ?", token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("share", "link")
	}
	return l, err
}

// ListSharesForConversation returns all links of a conversation, newest first.
func (s *Store) ListSharesForConversation(ctx context.Context, userID, conversationID string) ([]*types.ShareLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+shareColumns+" FROM share_links WHERE conversation_id = ? AND user_id = ? ORDER BY created_at DESC",
		conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	var out []*types.ShareLink
	for rows.Next() {
		l, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// RevokeShare marks a link owned by userID as revoked.
func (s *Store) RevokeShare(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE share_links SET revoked = 1 WHERE token = ? AND user_id = ?", token, userID)
	if err != nil {
		return fmt.Errorf("revoke share: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("share", "link")
	}
	return nil
}

// IncrementShareViews adds one to the link's view counter.
func (s *Store) IncrementShareViews(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "UPDATE share_links SET view_count = view_count + 1 WHERE token = ?", token)
	return err
}

func scanShare(r rowScanner) (*types.ShareLink, error) {
	var l types.ShareLink
	var expires sql.NullTime
	var revoked int
	if err := r.Scan(&l.Token, &l.ConversationID, &l.UserID, &expires, &revoked, &l.ViewCount, &l.CreatedAt); err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		l.ExpiresAt = &t
	}
	l.Revoked = revoked != 0
	return &l, nil
}
