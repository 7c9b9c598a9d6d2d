package api

import (
	"fmt"
	"net/http"
	"time"

	"juris/internal/types"
)

const day = 24 * time.Hour

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request, _ params) error {
	var req struct {
		ConversationID string `json:"conversation_id"`
		ExpiresInDays  int    `json:"expires_in_days"` // 0 never expires
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	if req.ConversationID == "" {
		return fmt.Errorf("conversation_id is required: %w", types.ErrInvalid)
	}
	// Bounded before converting so large day counts cannot overflow.
	maxDays := int(s.shares.MaxTTL() / day)
	if req.ExpiresInDays < 0 || req.ExpiresInDays > maxDays {
		return fmt.Errorf("expires_in_days must be between 0 and %d: %w", maxDays, types.ErrInvalid)
	}
	link, err := s.shares.CreateLink(r.Context(), userID(r), req.ConversationID, time.Duration(req.ExpiresInDays)*day)
	if err != nil {
		return err
	}
	created(w, link)
	return nil
}

func (s *Server) handleListShares(w http.ResponseWriter, r *http.Request, _ params) error {
	conv := r.URL.Query().Get("conversation_id")
	if conv == "" {
		return fmt.Errorf("conversation_id is required: %w", types.ErrInvalid)
	}
	links, err := s.shares.ListLinks(r.Context(), userID(r), conv)
	if err != nil {
		return err
	}
	ok(w, links)
	return nil
}

func (s *Server) handleRevokeShare(w http.ResponseWriter, r *http.Request, p params) error {
	if err := s.shares.RevokeLink(r.Context(), userID(r), p.ByName("token")); err != nil {
		return err
	}
	ok(w, nil)
	return nil
}

func (s *Server) handleResolveShare(w http.ResponseWriter, r *http.Request, p params) error {
	view, err := s.shares.Resolve(r.Context(), p.ByName("token"))
	if err != nil {
		return err
	}
	w.Header().Set("Cache-Control", "no-store")
	ok(w, view)
	return nil
}
