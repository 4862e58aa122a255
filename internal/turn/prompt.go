package turn

import (
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/sessions"
)

// systemPrompt is the standing instruction set for every turn. The dated
// context lives in the user prompt instead, so prompt caching stays
// effective across days.
const systemPrompt = `You are the assistant behind Agent Gateway, a service that makes agent internals visible: every tool call, policy decision, and sub-agent you launch is streamed to the user as it happens.

Work inside the sandbox directory you are given. Prefer small, verifiable steps; when a task decomposes cleanly, delegate self-contained parts with the Task tool. Files you create under the sandbox are served to the user, and .html files are linked automatically when written.`

// ComposePrompt builds the single user-typed message for a turn: a dated
// context header, the flattened prior conversation (the runtime's stream
// mode rejects replayed assistant turns), and the current message last.
func ComposePrompt(now time.Time, history []sessions.Message, message string) string {
	header := fmt.Sprintf(`[System context]
Current date: %s

Notes:
- Your knowledge has a cutoff; for newer events, news, or library versions use the available search tools.
- When searching for recent topics, include the year (e.g. "%d") in the query for fresher results.

`, now.Format("2006-01-02"), now.Year())

	flattened := sessions.FlattenHistory(history)
	if flattened == "" {
		return header + message
	}
	return header + flattened + "\n[Current message]\n" + message
}
