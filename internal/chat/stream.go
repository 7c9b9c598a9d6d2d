package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"juris/internal/agent"
	"juris/internal/llm"
	"juris/internal/logging"
	"juris/internal/types"

	"github.com/google/uuid"
)

const (
	// historyFetch bounds the messages loaded for prompt assembly; the
	// runner trims further to its window.
	historyFetch   = 200
	maxAttachments = 10
	persistTimeout = 10 * time.Second
	eventBuffer    = 32
)

// EventKind names a stream event. The values are the SSE event names.
type EventKind string

const (
	EventStart   EventKind = "start"
	EventDelta   EventKind = "delta"
	EventDone    EventKind = "done"
	EventStopped EventKind = "stopped"
	EventError   EventKind = "error"
)

// Event is one item of an answer stream.
type Event struct {
	Kind EventKind
	Data any
}

// StartData opens a stream.
type StartData struct {
	ConversationID     string `json:"conversation_id"`
	UserMessageID      string `json:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id"`
	Persona            string `json:"persona"`
	Created            bool   `json:"created"`
}

// DeltaData carries a piece of answer text.
type DeltaData struct {
	Text string `json:"text"`
}

// ErrorData ends a failed stream. Message is the persisted partial answer,
// if it could be saved.
type ErrorData struct {
	Error   string         `json:"error"`
	Message *types.Message `json:"message,omitempty"`
}

// SendRequest asks for an answer in a conversation. An empty
// ConversationID starts a new conversation.
type SendRequest struct {
	ConversationID   string   `json:"conversation_id"`
	Content          string   `json:"content"`
	Persona          string   `json:"persona"`
	KnowledgeBaseIDs []string `json:"kb_ids"`
	FileIDs          []string `json:"file_ids"`
	Regenerate       bool     `json:"regenerate"`
}

// Stream is a running answer. Events is closed after the final done,
// stopped or error event.
type Stream struct {
	ConversationID string
	events         chan Event
}

// Events returns the event channel.
func (st *Stream) Events() <-chan Event { return st.events }

// emit delivers ev unless the consumer's context is gone.
func (st *Stream) emit(ctx context.Context, ev Event) bool {
	select {
	case st.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// turn is the prepared input of one answer. Nothing is written until
// commitTurn.
type turn struct {
	conv           *types.Conversation
	persona        agent.Persona
	created        bool // conv is new and not yet stored
	personaChanged bool
	userMsg        *types.Message
	history        []*types.Message
	question       string
	request        llm.Request
}

// Send starts streaming an answer. Cancelling ctx abandons the stream; the
// partial answer is then kept as stopped.
func (s *Service) Send(ctx context.Context, userID string, req SendRequest) (*Stream, error) {
	content := strings.TrimSpace(req.Content)
	if err := validateSend(req, content); err != nil {
		return nil, err
	}
	for _, id := range req.FileIDs {
		if _, err := s.store.GetFile(ctx, userID, id); err != nil {
			return nil, fmt.Errorf("attachment: %w", err)
		}
	}

	t, err := s.resolveConversation(ctx, userID, req, content)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	if err := s.stops.Register(t.conv.ID, userID, cancel); err != nil {
		cancel()
		return nil, err
	}
	abort := func(err error) (*Stream, error) {
		s.stops.Release(t.conv.ID)
		cancel()
		return nil, err
	}

	if err := s.loadTurn(ctx, t, req, content); err != nil {
		return abort(err)
	}
	refs, err := s.references(ctx, userID, t.persona, req.KnowledgeBaseIDs, t.question)
	if err != nil {
		return abort(err)
	}
	if _, t.request, err = s.runner.Prepare(t.persona.Key, t.history, t.question, refs); err != nil {
		return abort(err)
	}
	if err := s.commitTurn(ctx, t, userID, req); err != nil {
		return abort(err)
	}
	chunks, errs := s.runner.StreamRequest(streamCtx, t.request)

	st := &Stream{ConversationID: t.conv.ID, events: make(chan Event, eventBuffer)}
	logging.Chat("Streaming answer conversation=%s persona=%s regenerate=%v refs=%d", t.conv.ID, t.persona.Key, req.Regenerate, len(refs))
	go s.pump(ctx, cancel, st, t, userID, chunks, errs)
	return st, nil
}

func validateSend(req SendRequest, content string) error {
	if req.Regenerate {
		if req.ConversationID == "" {
			return fmt.Errorf("regenerate needs a conversation: %w", types.ErrInvalid)
		}
	} else if content == "" {
		return fmt.Errorf("message is empty: %w", types.ErrInvalid)
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		return fmt.Errorf("message longer than %d characters: %w", maxContentRunes, types.ErrInvalid)
	}
	if len(req.FileIDs) > maxAttachments {
		return fmt.Errorf("at most %d attachments: %w", maxAttachments, types.ErrInvalid)
	}
	return nil
}

// resolveConversation loads the conversation, or drafts a new one, and
// settles the persona for this answer.
func (s *Service) resolveConversation(ctx context.Context, userID string, req SendRequest, content string) (*turn, error) {
	registry := s.runner.Registry()

	if req.ConversationID == "" {
		p, err := registry.Get(req.Persona)
		if err != nil {
			return nil, err
		}
		conv := &types.Conversation{
			ID:      uuid.NewString(),
			UserID:  userID,
			Title:   agent.FallbackTitle(content),
			Persona: p.Key,
		}
		return &turn{conv: conv, persona: p, created: true}, nil
	}

	conv, err := s.store.GetConversation(ctx, userID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	key := conv.Persona
	if req.Persona != "" && req.Persona != conv.Persona {
		key = req.Persona
	}
	p, err := registry.Get(key)
	switch {
	case err == nil:
	case key == conv.Persona && errors.Is(err, types.ErrNotFound):
		// The stored persona was removed from the overlay.
		logging.ChatWarn("Conversation %s persona %q no longer exists; using default", conv.ID, key)
		if p, err = registry.Get(""); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	t := &turn{conv: conv, persona: p}
	if p.Key != conv.Persona {
		conv.Persona = p.Key
		t.personaChanged = true
	}
	return t, nil
}

// loadTurn loads the history and question. Regenerate answers the last
// user message again.
func (s *Service) loadTurn(ctx context.Context, t *turn, req SendRequest, content string) error {
	if t.created {
		t.question = content
		return nil
	}
	if !req.Regenerate {
		history, err := s.store.ListMessages(ctx, t.conv.ID, historyFetch)
		if err != nil {
			return err
		}
		t.history = history
		t.question = content
		return nil
	}

	msgs, err := s.store.ListMessages(ctx, t.conv.ID, 0)
	if err != nil {
		return err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUserMessage {
			t.userMsg = msgs[i]
			t.history = msgs[:i]
			t.question = msgs[i].Content
			return nil
		}
	}
	return fmt.Errorf("conversation %s has no question to regenerate: %w", t.conv.ID, types.ErrInvalid)
}

// commitTurn stores the new conversation and the question, or for
// Regenerate drops everything after the question. A conversation created
// here is removed again if the question cannot be stored.
func (s *Service) commitTurn(ctx context.Context, t *turn, userID string, req SendRequest) error {
	if t.created {
		if _, err := s.store.CreateConversation(ctx, t.conv); err != nil {
			return err
		}
	} else if t.personaChanged {
		if err := s.store.SetConversationPersona(ctx, userID, t.conv.ID, t.persona.Key); err != nil {
			return err
		}
	}

	if req.Regenerate {
		n, err := s.store.DeleteMessagesAfter(ctx, t.conv.ID, t.userMsg.Seq)
		if err != nil {
			return err
		}
		logging.ChatDebug("Regenerate conversation=%s dropped %d messages", t.conv.ID, n)
		return nil
	}
	userMsg, err := s.store.AppendMessage(ctx, &types.Message{
		ConversationID: t.conv.ID,
		Role:           types.RoleUserMessage,
		Content:        t.question,
		Status:         types.MessageComplete,
		FileIDs:        req.FileIDs,
	})
	if err != nil {
		if t.created {
			if derr := s.store.DeleteConversation(context.WithoutCancel(ctx), userID, t.conv.ID); derr != nil {
				logging.ChatWarn("Failed to remove empty conversation %s: %v", t.conv.ID, derr)
			}
		}
		return err
	}
	t.userMsg = userMsg
	return nil
}

// references retrieves knowledge excerpts. Unknown bases are an error;
// a failing search only degrades the answer.
func (s *Service) references(ctx context.Context, userID string, p agent.Persona, kbIDs []string, question string) ([]agent.Reference, error) {
	if s.retriever == nil || !p.UseKnowledge || len(kbIDs) == 0 {
		return nil, nil
	}
	refs, err := s.retriever.Retrieve(ctx, userID, kbIDs, question, s.opts.RetrievalTopK)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrForbidden) {
			return nil, err
		}
		logging.ChatWarn("Knowledge retrieval failed, answering without references: %v", err)
		return nil, nil
	}
	return refs, nil
}

// pump forwards model output to the stream and persists the answer.
func (s *Service) pump(ctx context.Context, cancel context.CancelFunc, st *Stream, t *turn, userID string, chunks <-chan llm.Chunk, errs <-chan error) {
	defer close(st.events)
	defer cancel()

	start := time.Now()
	assistantID := uuid.NewString()
	st.emit(ctx, Event{Kind: EventStart, Data: StartData{
		ConversationID:     t.conv.ID,
		UserMessageID:      t.userMsg.ID,
		AssistantMessageID: assistantID,
		Persona:            t.persona.Key,
		Created:            t.created,
	}})

	var answer strings.Builder
	var usage llm.Usage
	for c := range chunks {
		if c.Usage != nil {
			usage = *c.Usage
		}
		if c.Delta == "" {
			continue
		}
		answer.WriteString(c.Delta)
		st.emit(ctx, Event{Kind: EventDelta, Data: DeltaData{Text: c.Delta}})
	}
	streamErr := <-errs

	stopped := s.stops.Stopped(t.conv.ID)
	s.stops.Release(t.conv.ID)

	status := types.MessageComplete
	switch {
	case streamErr == nil:
	case stopped || ctx.Err() != nil:
		status = types.MessageStopped
	default:
		status = types.MessageFailed
	}

	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelSave()
	saved, err := s.store.AppendMessage(saveCtx, &types.Message{
		ID:             assistantID,
		ConversationID: t.conv.ID,
		Role:           types.RoleAssistantMessage,
		Content:        answer.String(),
		Status:         status,
		TokensIn:       usage.PromptTokens,
		TokensOut:      usage.CompletionTokens,
	})
	if err != nil {
		logging.ChatError("Failed to save answer conversation=%s: %v", t.conv.ID, err)
		st.emit(ctx, Event{Kind: EventError, Data: ErrorData{Error: "failed to save the answer"}})
		return
	}

	logging.Chat("Answer %s conversation=%s status=%s len=%d in %v", saved.ID, t.conv.ID, status, answer.Len(), time.Since(start))

	switch status {
	case types.MessageComplete:
		st.emit(ctx, Event{Kind: EventDone, Data: saved})
	case types.MessageStopped:
		st.emit(ctx, Event{Kind: EventStopped, Data: saved})
	default:
		logging.ChatError("Model failed conversation=%s: %v", t.conv.ID, streamErr)
		st.emit(ctx, Event{Kind: EventError, Data: ErrorData{Error: clientError(streamErr), Message: saved}})
	}

	if t.created && status != types.MessageFailed {
		s.generateTitle(userID, t.conv.ID, t.question)
	}
}

// generateTitle names a new conversation in the background.
func (s *Service) generateTitle(userID, conversationID, question string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.TitleTimeout)
		defer cancel()

		title := s.runner.Title(ctx, question)
		if err := s.store.RenameConversation(ctx, userID, conversationID, title); err != nil {
			logging.ChatWarn("Failed to set title of conversation %s: %v", conversationID, err)
			return
		}
		logging.ChatDebug("Titled conversation %s: %q", conversationID, title)
	}()
}

func clientError(err error) string {
	switch {
	case errors.Is(err, types.ErrUnavailable):
		return "the model is not available"
	case errors.Is(err, context.DeadlineExceeded):
		return "the model took too long to answer"
	default:
		return "the model failed to answer"
	}
}
