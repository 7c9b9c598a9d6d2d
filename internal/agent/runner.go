package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"juris/internal/llm"
	"juris/internal/logging"
	"juris/internal/types"
)

const (
	// DefaultTitle names a conversation whose first question is empty.
	DefaultTitle = "New consultation"

	titleFallbackRunes = 20
	titleMaxRunes      = 40
)

const titlePrompt = `Write a short title (at most 12 words) for a legal consultation that starts with the question below. Reply with the title only: no quotes, no punctuation at the end.`

// Runner executes persona requests against a model client.
type Runner struct {
	client   llm.Client
	registry *Registry
	window   int
}

// NewRunner creates a runner. window <= 0 uses DefaultHistoryWindow.
func NewRunner(client llm.Client, registry *Registry, window int) *Runner {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Runner{client: client, registry: registry, window: window}
}

// Registry returns the persona registry backing the runner.
func (r *Runner) Registry() *Registry { return r.registry }

// Model names the underlying client.
func (r *Runner) Model() string { return r.client.Name() }

// Prepare resolves the persona and builds its request.
func (r *Runner) Prepare(personaKey string, history []*types.Message, question string, refs []Reference) (Persona, llm.Request, error) {
	p, err := r.registry.Get(personaKey)
	if err != nil {
		return Persona{}, llm.Request{}, err
	}
	if strings.TrimSpace(question) == "" {
		return Persona{}, llm.Request{}, fmt.Errorf("empty question: %w", types.ErrInvalid)
	}
	return p, BuildRequest(p, history, question, refs, r.window), nil
}

// Stream answers question as the given persona, streaming deltas.
func (r *Runner) Stream(ctx context.Context, personaKey string, history []*types.Message, question string, refs []Reference) (<-chan llm.Chunk, <-chan error, error) {
	p, req, err := r.Prepare(personaKey, history, question, refs)
	if err != nil {
		return nil, nil, err
	}
	logging.AgentDebug("Stream persona=%s history=%d refs=%d model=%s", p.Key, len(req.Messages)-1, len(refs), r.client.Name())
	chunks, errs := r.StreamRequest(ctx, req)
	return chunks, errs, nil
}

// StreamRequest streams a request built earlier by Prepare.
func (r *Runner) StreamRequest(ctx context.Context, req llm.Request) (<-chan llm.Chunk, <-chan error) {
	return r.client.Stream(ctx, req)
}

// Complete answers question as the given persona in one call.
func (r *Runner) Complete(ctx context.Context, personaKey string, history []*types.Message, question string, refs []Reference) (*llm.Response, error) {
	p, req, err := r.Prepare(personaKey, history, question, refs)
	if err != nil {
		return nil, err
	}
	timer := logging.StartTimer(logging.CategoryAgent, "Complete:"+p.Key)
	defer timer.Stop()
	return r.client.Complete(ctx, req)
}

// Title produces a short conversation title for the first question. It
// never fails: on any model error the question itself is abbreviated.
func (r *Runner) Title(ctx context.Context, question string) string {
	question = strings.TrimSpace(question)
	if question == "" {
		return DefaultTitle
	}
	resp, err := r.client.Complete(ctx, llm.Request{
		System:      titlePrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: question}},
		Temperature: 0.2,
		MaxTokens:   64,
	})
	if err != nil {
		logging.AgentWarn("Title generation failed, using fallback: %v", err)
		return FallbackTitle(question)
	}
	title := cleanTitle(resp.Text)
	if title == "" {
		return FallbackTitle(question)
	}
	return title
}

// FallbackTitle abbreviates question to its first 20 runes.
func FallbackTitle(question string) string {
	q := strings.Join(strings.Fields(question), " ")
	if q == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(q) <= titleFallbackRunes {
		return q
	}
	return strings.TrimSpace(string([]rune(q)[:titleFallbackRunes]))
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "Title:")
	s = strings.Trim(strings.TrimSpace(s), "\"'“”「」#*。.")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > titleMaxRunes {
		s = string([]rune(s)[:titleMaxRunes])
	}
	return s
}
