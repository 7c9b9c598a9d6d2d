package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"juris/internal/logging"
	"juris/internal/types"
)

// SaveSession records an issued token.
func (s *Store) SaveSession(ctx context.Context, sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (jti, user_id, expires_at, revoked, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(jti) DO UPDATE SET expires_at = excluded.expires_at, revoked = excluded.revoked`,
		sess.JTI, sess.UserID, sess.ExpiresAt.UTC(), boolToInt(sess.Revoked), s.now(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession returns the session record for a jti.
func (s *Store) GetSession(ctx context.Context, jti string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess types.Session
	var revoked int
	err := s.db.QueryRowContext(ctx,
		"SELECT jti, user_id, expires_at, revoked FROM sessions WHERE jti = ?", jti,
	).Scan(&sess.JTI, &sess.UserID, &sess.ExpiresAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("session", jti)
	}
	if err != nil {
		return nil, err
	}
	sess.Revoked = revoked != 0
	return &sess, nil
}

// RevokeSession marks one session revoked.
func (s *Store) RevokeSession(ctx context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE sessions SET revoked = 1 WHERE jti = ?", jti)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("session", jti)
	}
	return nil
}

// RevokeUserSessions revokes every session of a user and returns the count.
func (s *Store) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE sessions SET revoked = 1 WHERE user_id = ? AND revoked = 0", userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeExpiredSessions deletes sessions whose expiry has passed.
func (s *Store) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < ?", s.now())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.StoreDebug("Purged %d expired sessions", n)
	}
	return n, nil
}
