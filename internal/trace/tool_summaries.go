package trace

// SummarizeToolInput reduces a tool's input to the few fields worth showing
// in timelines and SSE frames. Unknown tools pass their input through.
func SummarizeToolInput(toolName string, input map[string]any) map[string]any {
	if input == nil {
		input = map[string]any{}
	}
	switch toolName {
	case "Read":
		return map[string]any{"file_path": dataString(input, "file_path")}
	case "Write":
		content := dataString(input, "content")
		return map[string]any{
			"file_path":       dataString(input, "file_path"),
			"content_length":  len(content),
			"content_preview": clip(content, 100),
		}
	case "Edit":
		return map[string]any{
			"file_path":          dataString(input, "file_path"),
			"old_string_preview": clipNoEllipsis(dataString(input, "old_string"), 50),
			"new_string_preview": clipNoEllipsis(dataString(input, "new_string"), 50),
		}
	case "Bash":
		return map[string]any{
			"command":     clip(dataString(input, "command"), 100),
			"description": dataString(input, "description"),
		}
	case "Glob", "Grep":
		path := dataString(input, "path")
		if path == "" {
			path = "."
		}
		return map[string]any{
			"pattern": dataString(input, "pattern"),
			"path":    path,
		}
	case "Task":
		return map[string]any{
			"subagent_type":  dataString(input, "subagent_type"),
			"description":    dataString(input, "description"),
			"prompt_preview": clipNoEllipsis(dataString(input, "prompt"), 100),
		}
	default:
		return input
	}
}

// SummarizeToolOutput reduces a tool result to a preview. Long outputs keep
// their full length alongside the first 500 runes.
func SummarizeToolOutput(output string) map[string]any {
	r := []rune(output)
	if len(r) > 500 {
		return map[string]any{
			"preview":     string(r[:500]) + "...",
			"full_length": len(r),
		}
	}
	return map[string]any{"result": output}
}

func clipNoEllipsis(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
