package tools

import (
	"context"
	"fmt"
)

// SpawnFunc runs a sub-agent turn for a prompt and returns its final text.
// The runtime engine injects this so the tools package stays independent
// of the loop that drives it.
type SpawnFunc func(ctx context.Context, prompt string) (string, error)

// TaskTool delegates a self-contained piece of work to a sub-agent.
type TaskTool struct {
	spawn SpawnFunc
}

func NewTaskTool(spawn SpawnFunc) *TaskTool {
	return &TaskTool{spawn: spawn}
}

func (t *TaskTool) Name() string { return "Task" }

func (t *TaskTool) Description() string {
	return "Launch a sub-agent to handle a self-contained task. The sub-agent runs its own tool loop and returns a final report."
}

func (t *TaskTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": map[string]any{
				"type":        "string",
				"description": "Short (3-5 word) description of the task",
			},
			"prompt": map[string]any{
				"type":        "string",
				"description": "The full task for the sub-agent to perform",
			},
			"subagent_type": map[string]any{
				"type":        "string",
				"description": "The type of agent to launch",
			},
		},
		"required": []string{"description", "prompt"},
	}
}

func (t *TaskTool) Execute(ctx context.Context, args map[string]any) *Result {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return ErrorResult("prompt is required")
	}
	if t.spawn == nil {
		return ErrorResult("sub-agents are not available")
	}

	report, err := t.spawn(ctx, prompt)
	if err != nil {
		return ErrorResult(fmt.Sprintf("sub-agent failed: %v", err)).WithError(err)
	}
	if report == "" {
		report = "(sub-agent completed with no output)"
	}
	return NewResult(report)
}
