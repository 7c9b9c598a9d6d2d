// Package auth implements account registration, password handling, JWT
// issuance and server-side session tracking.
//
// A token is accepted only when its signature, issuer and expiry verify and
// its jti is still present in the SessionStore, so Logout and password
// changes take effect immediately.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"juris/internal/config"
	"juris/internal/logging"
	"juris/internal/store"
	"juris/internal/types"
)

// RegisterRequest carries the fields of a new account.
type RegisterRequest struct {
	Username    string     `json:"username"`
	Password    string     `json:"password"`
	DisplayName string     `json:"display_name"`
	Email       string     `json:"email"`
	Role        types.Role `json:"-"`
}

// LoginResult is returned by Login and Refresh.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *types.User `json:"user"`
}

// Service implements the account operations.
type Service struct {
	store    *store.Store
	tokens   *TokenIssuer
	sessions SessionStore
	cost     int

	// dummyHash is compared against when the username does not exist so the
	// response time does not reveal which part of the credentials was wrong.
	dummyHash string
}

// NewService wires the auth service.
func NewService(st *store.Store, cfg config.AuthConfig, sessions SessionStore) (*Service, error) {
	tokens, err := NewTokenIssuer(cfg.JWTSecret, cfg.Issuer, cfg.GetTokenTTL())
	if err != nil {
		return nil, err
	}
	dummy, err := HashPassword("juris-dummy-password-1", cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	return &Service{store: st, tokens: tokens, sessions: sessions, cost: cfg.BcryptCost, dummyHash: dummy}, nil
}

// Register creates an account. Role defaults to user.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*types.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := ValidateUsername(req.Username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}
	if err := ValidateEmail(req.Email); err != nil {
		return nil, err
	}
	if req.Role == "" {
		req.Role = types.RoleUser
	}
	if req.Role != types.RoleUser && req.Role != types.RoleAdmin {
		return nil, fmt.Errorf("unknown role %q: %w", req.Role, types.ErrInvalid)
	}

	hash, err := HashPassword(req.Password, s.cost)
	if err != nil {
		return nil, err
	}
	display := strings.TrimSpace(req.DisplayName)
	if display == "" {
		display = req.Username
	}
	u, err := s.store.CreateUser(ctx, &types.User{
		Username:     req.Username,
		DisplayName:  display,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
	})
	if err != nil {
		return nil, err
	}
	logging.Auth("Registered user=%s role=%s", u.Username, u.Role)
	return u, nil
}

// Login verifies credentials and issues a token.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, types.ErrNotFound) {
		CheckPassword(s.dummyHash, password)
		logging.AuthWarn("Login failed: unknown user")
		return nil, fmt.Errorf("invalid username or password: %w", types.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(u.PasswordHash, password) {
		logging.AuthWarn("Login failed: bad password for user=%s", u.Username)
		return nil, fmt.Errorf("invalid username or password: %w", types.ErrUnauthorized)
	}
	if u.Status != types.UserActive {
		return nil, fmt.Errorf("account disabled: %w", types.ErrForbidden)
	}

	res, err := s.issue(ctx, u)
	if err != nil {
		return nil, err
	}
	logging.Auth("User logged in: %s", u.Username)
	return res, nil
}

// Logout revokes the token's session.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, claims.ID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	logging.AuthDebug("Logged out user=%s jti=%s", claims.Name, claims.ID)
	return nil
}

// Authenticate verifies a token and that its session is still live.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", types.ErrUnauthorized)
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	ok, err := s.sessions.Exists(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("session revoked: %w", types.ErrUnauthorized)
	}
	return claims, nil
}

// Refresh exchanges a live token for a new one and revokes the old session.
func (s *Service) Refresh(ctx context.Context, token string) (*LoginResult, error) {
	claims, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("user gone: %w", types.ErrUnauthorized)
		}
		return nil, err
	}
	if u.Status != types.UserActive {
		return nil, fmt.Errorf("account disabled: %w", types.ErrForbidden)
	}
	res, err := s.issue(ctx, u)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Revoke(ctx, claims.ID); err != nil {
		logging.AuthWarn("Failed to revoke refreshed session %s: %v", claims.ID, err)
	}
	return res, nil
}

// ChangePassword replaces the password and revokes every session of the user.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !CheckPassword(u.PasswordHash, oldPassword) {
		return fmt.Errorf("current password is wrong: %w", types.ErrUnauthorized)
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword, s.cost)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	logging.Auth("Password changed for user=%s", u.Username)
	return nil
}

// UpdateProfile changes display name and email.
func (s *Service) UpdateProfile(ctx context.Context, userID, displayName, email string) (*types.User, error) {
	email = strings.TrimSpace(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := s.store.UpdateUserProfile(ctx, userID, strings.TrimSpace(displayName), email); err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, userID)
}

// ListUsers returns accounts in creation order.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*types.User, error) {
	return s.store.ListUsers(ctx, limit, offset)
}

// SetUserStatus enables or disables the named account. Disabling revokes
// every session, so existing tokens stop working at once.
func (s *Service) SetUserStatus(ctx context.Context, username string, status types.UserStatus) (*types.User, error) {
	if status != types.UserActive && status != types.UserDisabled {
		return nil, fmt.Errorf("unknown status %q: %w", status, types.ErrInvalid)
	}
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if err := s.store.SetUserStatus(ctx, u.ID, status); err != nil {
		return nil, err
	}
	if status == types.UserDisabled {
		if err := s.sessions.RevokeAll(ctx, u.ID); err != nil {
			return nil, fmt.Errorf("revoke sessions: %w", err)
		}
	}
	u.Status = status
	logging.Auth("Set status of user=%s to %s", u.Username, status)
	return u, nil
}

// PurgeExpiredSessions removes expired sessions from stores that keep them.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	p, ok := s.sessions.(purger)
	if !ok {
		return 0, nil
	}
	return p.Purge(ctx)
}

// RunSessionJanitor purges expired sessions now and then every interval
// until ctx is done.
func (s *Service) RunSessionJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := s.PurgeExpiredSessions(ctx); err != nil {
			logging.AuthWarn("Session purge failed: %v", err)
		} else if n > 0 {
			logging.Auth("Purged %d expired sessions", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Me returns the account of the authenticated user.
func (s *Service) Me(ctx context.Context, userID string) (*types.User, error) {
	return s.store.GetUser(ctx, userID)
}

func (s *Service) issue(ctx context.Context, u *types.User) (*LoginResult, error) {
	token, claims, err := s.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	exp := claims.ExpiresAt.Time
	if err := s.sessions.Save(ctx, &types.Session{JTI: claims.ID, UserID: u.ID, ExpiresAt: exp}); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return &LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}
