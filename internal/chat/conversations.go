// Package chat manages conversations and streams persona answers into them.
//
// Send persists the user's question, asks the persona runner for a streamed
// answer, and forwards the deltas as Events while accumulating the text. A
// conversation has at most one answer in flight; Stop cancels it and the
// partial text is kept with status "stopped".
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"juris/internal/agent"
	"juris/internal/logging"
	"juris/internal/store"
	"juris/internal/types"
)

const (
	maxTitleRunes   = 100
	maxContentRunes = 20000

	defaultTitleTimeout  = 30 * time.Second
	defaultRetrievalTopK = 5
)

// Retriever finds knowledge-base excerpts for a question.
type Retriever interface {
	Retrieve(ctx context.Context, userID string, kbIDs []string, query string, k int) ([]agent.Reference, error)
}

// Options tunes a Service. Zero values use defaults.
type Options struct {
	RetrievalTopK int
	TitleTimeout  time.Duration
}

// Service owns conversations and their answer streams.
type Service struct {
	store     *store.Store
	runner    *agent.Runner
	retriever Retriever
	stops     *StopRegistry
	opts      Options

	// background tracks title generation goroutines.
	background sync.WaitGroup
}

// NewService builds the chat service. retriever may be nil.
func NewService(st *store.Store, runner *agent.Runner, retriever Retriever, opts Options) *Service {
	if opts.RetrievalTopK <= 0 {
		opts.RetrievalTopK = defaultRetrievalTopK
	}
	if opts.TitleTimeout <= 0 {
		opts.TitleTimeout = defaultTitleTimeout
	}
	return &Service{
		store:     st,
		runner:    runner,
		retriever: retriever,
		stops:     NewStopRegistry(),
		opts:      opts,
	}
}

// Stops exposes the stop registry.
func (s *Service) Stops() *StopRegistry { return s.stops }

// Personas lists the personas available for new conversations.
func (s *Service) Personas() []agent.Persona { return s.runner.Registry().List() }

// Wait blocks until background title generation has finished.
func (s *Service) Wait() { s.background.Wait() }

// Create starts an empty conversation.
func (s *Service) Create(ctx context.Context, userID, title, persona string) (*types.Conversation, error) {
	p, err := s.runner.Registry().Get(persona)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = agent.DefaultTitle
	}
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	c, err := s.store.CreateConversation(ctx, &types.Conversation{UserID: userID, Title: title, Persona: p.Key})
	if err != nil {
		return nil, err
	}
	logging.Chat("Created conversation %s user=%s persona=%s", c.ID, userID, p.Key)
	return c, nil
}

// List returns the user's conversations, pinned first.
func (s *Service) List(ctx context.Context, userID string, f types.ConversationFilter) ([]*types.Conversation, error) {
	return s.store.ListConversations(ctx, userID, f)
}

// Get returns one of the user's conversations.
func (s *Service) Get(ctx context.Context, userID, id string) (*types.Conversation, error) {
	return s.store.GetConversation(ctx, userID, id)
}

// Rename sets a conversation's title.
func (s *Service) Rename(ctx context.Context, userID, id, title string) error {
	title = strings.TrimSpace(title)
	if err := validateTitle(title); err != nil {
		return err
	}
	return s.store.RenameConversation(ctx, userID, id, title)
}

// Pin pins or unpins a conversation.
func (s *Service) Pin(ctx context.Context, userID, id string, pinned bool) error {
	return s.store.SetConversationPinned(ctx, userID, id, pinned)
}

// SetPersona switches the persona used for later answers.
func (s *Service) SetPersona(ctx context.Context, userID, id, persona string) error {
	p, err := s.runner.Registry().Get(persona)
	if err != nil {
		return err
	}
	return s.store.SetConversationPersona(ctx, userID, id, p.Key)
}

// Delete soft-deletes a conversation, stopping any answer in flight.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteConversation(ctx, userID, id); err != nil {
		return err
	}
	if s.stops.Stop(id, userID) == nil {
		logging.ChatDebug("Stopped active answer of deleted conversation %s", id)
	}
	logging.Chat("Deleted conversation %s user=%s", id, userID)
	return nil
}

// Messages returns the full transcript of one of the user's conversations.
func (s *Service) Messages(ctx context.Context, userID, id string) ([]*types.Message, error) {
	if _, err := s.store.GetConversation(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, id, 0)
}

// Stop cancels the answer being streamed into conversationID.
func (s *Service) Stop(userID, conversationID string) error {
	if err := s.stops.Stop(conversationID, userID); err != nil {
		return err
	}
	logging.Chat("Stop requested for conversation %s by user=%s", conversationID, userID)
	return nil
}

func validateTitle(title string) error {
	if title == "" {
		return fmt.Errorf("title is required: %w", types.ErrInvalid)
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return fmt.Errorf("title longer than %d characters: %w", maxTitleRunes, types.ErrInvalid)
	}
	return nil
}
