package trace

import "fmt"

// summarize renders the one-line human summary stored next to each event.
// Unknown event types fall back to the type name so the timeline stays
// readable when new events appear.
func summarize(eventType string, data map[string]any) string {
	switch eventType {
	case "request":
		return fmt.Sprintf("user request: %s", clip(dataString(data, "message"), 50))
	case "config":
		return fmt.Sprintf("agent configured (sandbox: %s)", dataString(data, "sandbox_root"))
	case "text_delta":
		return fmt.Sprintf("output text (%d chars)", len([]rune(dataString(data, "delta"))))
	case "thinking":
		n := len([]rune(dataString(data, "thinking")))
		return fmt.Sprintf("thinking (%d chars, ~%d tokens)", n, n/4)
	case "tool_start":
		return fmt.Sprintf("tool call [%s] (iteration #%d)", dataString(data, "name"), dataInt(data, "iteration"))
	case "tool_result":
		return fmt.Sprintf("tool [%s] finished (status: %s, %dms)",
			dataString(data, "tool_name"), dataString(data, "status"), dataInt(data, "duration_ms"))
	case "usage":
		return fmt.Sprintf("tokens: %d in / %d out | api: %dms | cache reads: %d",
			dataInt(data, "input_tokens"), dataInt(data, "output_tokens"),
			dataInt(data, "duration_api_ms"), dataInt(data, "cache_read_tokens"))
	case "complete":
		tools, _ := data["tools_used"].([]string)
		if tools == nil {
			if raw, ok := data["tools_used"].([]any); ok {
				return fmt.Sprintf("turn complete (%d tools used)", len(raw))
			}
		}
		return fmt.Sprintf("turn complete (%d tools used)", len(tools))
	case "error":
		return fmt.Sprintf("error: %s - %s", dataString(data, "type"), clip(dataString(data, "error"), 50))
	case "raw_message":
		return fmt.Sprintf("runtime message (subtype: %s)", dataString(data, "subtype"))
	case "sandbox_block":
		return fmt.Sprintf("sandbox blocked [%s]: %s", dataString(data, "tool_name"), clip(dataString(data, "reason"), 40))
	case "hook_pre_tool":
		action := dataString(data, "action")
		if action == "" {
			action = "allow"
		}
		return fmt.Sprintf("pre-tool hook [%s] -> %s", dataString(data, "tool_name"), action)
	case "hook_post_tool":
		return fmt.Sprintf("post-tool hook [%s] (has result: %t)", dataString(data, "tool_name"), dataBool(data, "has_result"))
	case "hook_keep_stream":
		return fmt.Sprintf("keep-stream hook [%s]", dataString(data, "tool_name"))
	case "retry":
		return fmt.Sprintf("retry #%d/%d (%s)", dataInt(data, "attempt"), dataInt(data, "max_retries"), dataString(data, "error_type"))
	case "agent_spawn":
		return fmt.Sprintf("sub-agent spawned [%s] (depth: %d)", dataString(data, "agent_type"), dataInt(data, "depth"))
	case "agent_complete":
		return fmt.Sprintf("sub-agent finished (depth: %d)", dataInt(data, "new_depth"))
	default:
		return eventType
	}
}

// clip shortens s to max runes, appending an ellipsis when truncated.
func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
