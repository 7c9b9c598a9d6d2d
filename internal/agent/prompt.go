package agent

import (
	"fmt"
	"strings"

	"juris/internal/llm"
	"juris/internal/types"
)

// DefaultHistoryWindow is the number of prior messages sent with a question.
const DefaultHistoryWindow = 20

// maxReferenceRunes caps each knowledge excerpt placed in the prompt.
const maxReferenceRunes = 1200

// Reference is a knowledge-base excerpt offered to the model.
type Reference struct {
	Title   string
	Excerpt string
}

// BuildRequest assembles the model request for question. Only finished user
// and assistant turns from history are included, newest window of them.
func BuildRequest(p Persona, history []*types.Message, question string, refs []Reference, window int) llm.Request {
	if window <= 0 {
		window = DefaultHistoryWindow
	}

	system := p.SystemPrompt
	if block := referenceBlock(refs); block != "" {
		system += "\n\n" + block
	}

	turns := make([]llm.Message, 0, window+1)
	for _, m := range history {
		if m == nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Status != types.MessageComplete && m.Status != types.MessageStopped {
			continue
		}
		switch m.Role {
		case types.RoleUserMessage:
			turns = append(turns, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case types.RoleAssistantMessage:
			turns = append(turns, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	if len(turns) > window {
		turns = turns[len(turns)-window:]
	}
	turns = append(turns, llm.Message{Role: llm.RoleUser, Content: question})

	return llm.Request{
		System:      system,
		Messages:    turns,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}
}

func referenceBlock(refs []Reference) string {
	if len(refs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Reference material (cite as [n] when used):\n")
	for i, r := range refs {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&sb, "\n[%d] %s\n%s\n", i+1, title, truncateRunes(strings.TrimSpace(r.Excerpt), maxReferenceRunes))
	}
	return sb.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
