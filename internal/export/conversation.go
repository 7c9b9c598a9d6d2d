package export

import (
	"strconv"
	"strings"

	"juris/internal/types"
)

const timeLayout = "2006-01-02 15:04"

// ConversationMarkdown builds a transcript of a conversation. Failed and
// system messages are left out; a stopped answer is marked as such.
func ConversationMarkdown(conv *types.Conversation, messages []*types.Message) string {
	var sb strings.Builder
	title := strings.TrimSpace(conv.Title)
	if title == "" {
		title = "Consultation"
	}
	sb.WriteString("# " + title + "\n\n")
	sb.WriteString("- Persona: " + conv.Persona + "\n")
	sb.WriteString("- Created: " + conv.CreatedAt.Format(timeLayout) + "\n")
	sb.WriteString("- Updated: " + conv.UpdatedAt.Format(timeLayout) + "\n")

	q := 0
	for _, m := range messages {
		if m.Status == types.MessageFailed {
			continue
		}
		switch m.Role {
		case types.RoleUserMessage:
			q++
			sb.WriteString("\n## Question " + strconv.Itoa(q) + "\n\n")
		case types.RoleAssistantMessage:
			sb.WriteString("\n## Answer")
			if q > 0 {
				sb.WriteString(" " + strconv.Itoa(q))
			}
			sb.WriteString("\n\n")
		default:
			continue
		}
		sb.WriteString("*" + m.CreatedAt.Format(timeLayout) + "*\n\n")
		sb.WriteString(strings.TrimSpace(m.Content) + "\n")
		if m.Role == types.RoleAssistantMessage && m.Status == types.MessageStopped {
			sb.WriteString("\n> Answer stopped before completion.\n")
		}
	}
	return sb.String()
}
