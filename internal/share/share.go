// Package share issues read-only links to conversations and resolves them
// for anonymous viewers.
package share

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"juris/internal/logging"
	"juris/internal/store"
	"juris/internal/types"

	"github.com/google/uuid"
)

// DefaultMaxTTL caps expiring links when no limit is configured.
const DefaultMaxTTL = 30 * 24 * time.Hour

const tokenAttempts = 3

// PublicMessage is a message as shown to a link viewer.
type PublicMessage struct {
	Role      types.MessageRole   `json:"role"`
	Content   string              `json:"content"`
	Status    types.MessageStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
}

// View is what a resolved link exposes. Owner identity and ids are left out.
type View struct {
	Title     string          `json:"title"`
	Persona   string          `json:"persona"`
	Messages  []PublicMessage `json:"messages"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// Service manages share links.
type Service struct {
	store  *store.Store
	maxTTL time.Duration
	now    func() time.Time
}

// NewService builds a share service. maxTTL bounds links that expire; a
// non-positive value uses DefaultMaxTTL.
func NewService(st *store.Store, maxTTL time.Duration) *Service {
	if maxTTL <= 0 {
		maxTTL = DefaultMaxTTL
	}
	return &Service{store: st, maxTTL: maxTTL, now: time.Now}
}

// MaxTTL is the longest lifetime an expiring link may have.
func (s *Service) MaxTTL() time.Duration { return s.maxTTL }

// CreateLink shares one of the user's conversations. A zero ttl never
// expires; otherwise ttl must be positive and at most the configured max.
func (s *Service) CreateLink(ctx context.Context, userID, conversationID string, ttl time.Duration) (*types.ShareLink, error) {
	if ttl < 0 || ttl > s.maxTTL {
		return nil, fmt.Errorf("ttl must be between 0 and %s: %w", s.maxTTL, types.ErrInvalid)
	}
	if _, err := s.store.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	link := &types.ShareLink{ConversationID: conversationID, UserID: userID}
	if ttl > 0 {
		exp := s.now().Add(ttl).UTC()
		link.ExpiresAt = &exp
	}

	var err error
	for i := 0; i < tokenAttempts; i++ {
		link.Token = NewToken()
		var created *types.ShareLink
		created, err = s.store.CreateShare(ctx, link)
		if err == nil {
			logging.Share("Created share link for conversation=%s user=%s ttl=%s", conversationID, userID, ttl)
			return created, nil
		}
		if !errors.Is(err, types.ErrConflict) {
			return nil, err
		}
	}
	return nil, err
}

// NewToken returns a 22-character URL-safe random token.
func NewToken() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// Resolve returns the public view behind token and counts the view.
// Unknown, revoked and expired links all report types.ErrNotFound.
func (s *Service) Resolve(ctx context.Context, token string) (*View, error) {
	link, err := s.store.GetShare(ctx, token)
	if err != nil {
		return nil, err
	}
	if !link.Usable(s.now()) {
		logging.ShareDebug("Refused share link for conversation=%s revoked=%v", link.ConversationID, link.Revoked)
		return nil, fmt.Errorf("share link: %w", types.ErrNotFound)
	}
	conv, err := s.store.GetConversation(ctx, link.UserID, link.ConversationID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, conv.ID, 0)
	if err != nil {
		return nil, err
	}

	view := &View{
		Title:     conv.Title,
		Persona:   conv.Persona,
		Messages:  make([]PublicMessage, 0, len(messages)),
		CreatedAt: conv.CreatedAt,
		ExpiresAt: link.ExpiresAt,
	}
	for _, m := range messages {
		if !visible(m) {
			continue
		}
		view.Messages = append(view.Messages, PublicMessage{Role: m.Role, Content: m.Content, Status: m.Status, CreatedAt: m.CreatedAt})
	}

	if err := s.store.IncrementShareViews(ctx, token); err != nil {
		logging.ShareDebug("Failed to count view for conversation=%s: %v", conv.ID, err)
	}
	return view, nil
}

func visible(m *types.Message) bool {
	if m.Role != types.RoleUserMessage && m.Role != types.RoleAssistantMessage {
		return false
	}
	return m.Status == types.MessageComplete || m.Status == types.MessageStopped
}

// RevokeLink disables one of the user's links.
func (s *Service) RevokeLink(ctx context.Context, userID, token string) error {
	if err := s.store.RevokeShare(ctx, userID, token); err != nil {
		return err
	}
	logging.Share("Revoked share link user=%s", userID)
	return nil
}

// ListLinks returns the links of one of the user's conversations.
func (s *Service) ListLinks(ctx context.Context, userID, conversationID string) ([]*types.ShareLink, error) {
	if _, err := s.store.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	links, err := s.store.ListSharesForConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if links == nil {
		links = []*types.ShareLink{}
	}
	return links, nil
}
