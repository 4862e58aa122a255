package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	readDefaultLimit = 2000 // lines per read without an explicit limit
	readMaxLineChars = 2000 // longer lines are cut at this many characters
)

// resolvePath anchors a possibly-relative path at the tool workdir.
// Access control happens in the gateway policy layer before execution
// reaches a tool; tools only normalize.
func resolvePath(workdir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(workdir, path))
}

// ReadTool reads file contents with cat -n style line numbering.
type ReadTool struct {
	workdir string
}

func NewReadTool(workdir string) *ReadTool {
	return &ReadTool{workdir: workdir}
}

func (t *ReadTool) Name() string { return "Read" }

func (t *ReadTool) Description() string {
	return "Read the contents of a file. Returns numbered lines. Use offset and limit for large files."
}

func (t *ReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Path to the file to read",
			},
			"offset": map[string]any{
				"type":        "number",
				"description": "Line number to start reading from (1-based)",
			},
			"limit": map[string]any{
				"type":        "number",
				"description": "Maximum number of lines to read",
			},
		},
		"required": []string{"file_path"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["file_path"].(string)
	if path == "" {
		return ErrorResult("file_path is required")
	}
	resolved := resolvePath(t.workdir, path)

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err)).WithError(err)
	}
	if len(data) == 0 {
		return NewResult("(empty file)")
	}

	offset := intArg(args, "offset", 1)
	if offset < 1 {
		offset = 1
	}
	limit := intArg(args, "limit", readDefaultLimit)
	if limit < 1 {
		limit = readDefaultLimit
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if offset > len(lines) {
		return ErrorResult(fmt.Sprintf("offset %d is past the end of the file (%d lines)", offset, len(lines)))
	}
	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		line := lines[i]
		if len(line) > readMaxLineChars {
			line = line[:readMaxLineChars] + "... (line truncated)"
		}
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
	}
	if end < len(lines) {
		fmt.Fprintf(&b, "... (%d more lines)\n", len(lines)-end)
	}
	return NewResult(b.String())
}

// WriteTool creates or overwrites a file, creating parent directories.
type WriteTool struct {
	workdir string
}

func NewWriteTool(workdir string) *WriteTool {
	return &WriteTool{workdir: workdir}
}

func (t *WriteTool) Name() string { return "Write" }

func (t *WriteTool) Description() string {
	return "Write content to a file, creating it (and parent directories) if needed. Overwrites existing content."
}

func (t *WriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Path of the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full content to write",
			},
		},
		"required": []string{"file_path", "content"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["file_path"].(string)
	if path == "" {
		return ErrorResult("file_path is required")
	}
	content, _ := args["content"].(string)
	resolved := resolvePath(t.workdir, path)

	_, statErr := os.Stat(resolved)
	existed := statErr == nil

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("failed to create directory: %v", err)).WithError(err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err)).WithError(err)
	}

	if existed {
		return NewResult(fmt.Sprintf("File updated successfully at: %s", resolved))
	}
	return NewResult(fmt.Sprintf("File created successfully at: %s", resolved))
}

// EditTool performs an exact string replacement in a file.
type EditTool struct {
	workdir string
}

func NewEditTool(workdir string) *EditTool {
	return &EditTool{workdir: workdir}
}

func (t *EditTool) Name() string { return "Edit" }

func (t *EditTool) Description() string {
	return "Replace an exact string in a file. old_string must match uniquely unless replace_all is set."
}

func (t *EditTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Path of the file to edit",
			},
			"old_string": map[string]any{
				"type":        "string",
				"description": "Exact text to replace",
			},
			"new_string": map[string]any{
				"type":        "string",
				"description": "Replacement text",
			},
			"replace_all": map[string]any{
				"type":        "boolean",
				"description": "Replace every occurrence instead of requiring a unique match",
			},
		},
		"required": []string{"file_path", "old_string", "new_string"},
	}
}

func (t *EditTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["file_path"].(string)
	if path == "" {
		return ErrorResult("file_path is required")
	}
	oldStr, _ := args["old_string"].(string)
	newStr, _ := args["new_string"].(string)
	replaceAll, _ := args["replace_all"].(bool)

	if oldStr == "" {
		return ErrorResult("old_string is required")
	}
	if oldStr == newStr {
		return ErrorResult("old_string and new_string are identical")
	}

	resolved := resolvePath(t.workdir, path)
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err)).WithError(err)
	}
	content := string(data)

	count := strings.Count(content, oldStr)
	switch {
	case count == 0:
		return ErrorResult("old_string not found in file")
	case count > 1 && !replaceAll:
		return ErrorResult(fmt.Sprintf("old_string appears %d times in file; provide more surrounding context or set replace_all", count))
	}

	if replaceAll {
		content = strings.ReplaceAll(content, oldStr, newStr)
	} else {
		content = strings.Replace(content, oldStr, newStr, 1)
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err)).WithError(err)
	}

	replaced := 1
	if replaceAll {
		replaced = count
	}
	return NewResult(fmt.Sprintf("Edited %s (%d replacement(s))", resolved, replaced))
}

// intArg reads a numeric argument, tolerating the float64 that JSON
// decoding produces.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
