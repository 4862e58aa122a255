package sessions

import "strings"

// maxTurnChars caps each historical message inside the flattened block so a
// long conversation cannot crowd out the current message.
const maxTurnChars = 500

// FlattenHistory renders prior turns as a single context block. The runtime's
// streaming input accepts only user-typed messages, so history cannot be
// replayed as alternating roles; instead it is summarized into the prompt.
// Returns "" for empty history.
func FlattenHistory(msgs []Message) string {
	if len(msgs) == 0 {
		return ""
	}

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		if len(content) > maxTurnChars {
			content = content[:maxTurnChars] + "..."
		}
		label := "user"
		if m.Role == "assistant" {
			label = "assistant"
		}
		lines = append(lines, "["+label+"]: "+content)
	}

	var b strings.Builder
	b.WriteString("\n\n[Conversation so far]\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\nContinue the conversation using the context above.\n")
	return b.String()
}
