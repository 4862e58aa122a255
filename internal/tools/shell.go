package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	bashDefaultTimeout = 120 * time.Second
	bashMaxTimeout     = 600 * time.Second
	bashMaxOutputChars = 30000
)

// BashTool executes shell commands in the working directory.
// Command screening happens in the gateway policy layer; by the time a
// command reaches Execute it has already been allowed.
type BashTool struct {
	workdir string
}

func NewBashTool(workdir string) *BashTool {
	return &BashTool{workdir: workdir}
}

func (t *BashTool) Name() string { return "Bash" }

func (t *BashTool) Description() string {
	return "Execute a shell command and return its output. Commands run in the sandbox working directory."
}

func (t *BashTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "Short description of what the command does",
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Timeout in milliseconds (max 600000)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args map[string]any) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	timeout := bashDefaultTimeout
	if ms := intArg(args, "timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
		if timeout > bashMaxTimeout {
			timeout = bashMaxTimeout
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var result string
	if stdout.Len() > 0 {
		result = stdout.String()
	}
	if stderr.Len() > 0 {
		if result != "" {
			result += "\n"
		}
		result += "STDERR:\n" + stderr.String()
	}
	result = truncateOutput(result)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("command timed out after %s", timeout)).WithError(ctx.Err())
		}
		if result == "" {
			result = err.Error()
		} else {
			result += fmt.Sprintf("\n(%v)", err)
		}
		return ErrorResult(result).WithError(err)
	}

	if result == "" {
		result = "(command completed with no output)"
	}
	return NewResult(result)
}

// truncateOutput cuts oversized command output on a rune boundary.
func truncateOutput(s string) string {
	if utf8.RuneCountInString(s) <= bashMaxOutputChars {
		return s
	}
	r := []rune(s)
	kept := strings.TrimRight(string(r[:bashMaxOutputChars]), "\n")
	return fmt.Sprintf("%s\n... (output truncated at %d characters)", kept, bashMaxOutputChars)
}
