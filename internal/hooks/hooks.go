// Package hooks implements the per-turn tool interception pipeline: a FIFO
// queue of observations the SSE translator drains at its emission points, a
// pending-artifact map linking pre and post hooks, and the three hook
// constructors the coordinator installs on every turn.
package hooks

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/agentgate/internal/runtime"
	"github.com/nextlevelbuilder/agentgate/internal/sandbox"
	"github.com/nextlevelbuilder/agentgate/internal/trace"
)

// Event kinds, in queue order of appearance.
const (
	KindPreTool     = "pre_tool"
	KindPostTool    = "post_tool"
	KindHTMLCreated = "html_created"
)

// Pre-tool actions.
const (
	ActionAllow = "allow"
	ActionBlock = "block"
)

// Event is one queued hook observation destined for the SSE stream.
type Event struct {
	Kind      string
	ToolName  string
	ToolUseID string
	Action    string // pre_tool only
	Reason    string // pre_tool block: stable policy code
	Message   string
	Filename  string // html_created only
	URL       string // html_created only
}

// Queue is the per-turn FIFO between the hooks (producers) and the SSE
// translator (consumer). Unbounded; a turn's hook volume is small.
type Queue struct {
	mu     sync.Mutex
	events []Event
}

// Push appends an event.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, e)
}

// Drain returns all queued events in order and empties the queue.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.events
	q.events = nil
	return drained
}

// Len reports the queued event count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Pending carries artifact paths from the pre-tool hook (which sees the
// intent) to the post-tool hook (which sees the outcome), keyed by
// tool_use_id.
type Pending struct {
	mu    sync.Mutex
	paths map[string]string
}

// NewPending returns an empty artifact map.
func NewPending() *Pending {
	return &Pending{paths: make(map[string]string)}
}

// Put remembers the artifact path for a tool call.
func (p *Pending) Put(id, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths[id] = path
}

// Take removes and returns the artifact path for a tool call.
func (p *Pending) Take(id string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, ok := p.paths[id]
	if ok {
		delete(p.paths, id)
	}
	return path, ok
}

// Len reports the number of pending artifacts.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.paths)
}

// KeepStreamOpen returns the hook that must run first in the pre-tool
// chain. It decides nothing; it keeps the control stream open so the
// permission callback fires, and leaves an audit mark in the trace.
func KeepStreamOpen(tracer *trace.Logger) runtime.PreToolHook {
	return func(toolName, toolUseID string, input map[string]any) runtime.HookOutput {
		tracer.Log("hook_keep_stream", map[string]any{
			"hook_type":   "KeepStreamOpen",
			"tool_name":   toolName,
			"tool_use_id": toolUseID,
			"action":      "continue",
		})
		return runtime.HookOutput{Continue: true}
	}
}

// PreTool returns the policy-enforcing hook. A denial traces a
// sandbox_block, queues a block event and returns a block decision; an
// approval traces hook_pre_tool, queues an allow event, and remembers .html
// writes for the post-tool hook.
func PreTool(policy *sandbox.Policy, tracer *trace.Logger, q *Queue, pending *Pending) runtime.PreToolHook {
	return func(toolName, toolUseID string, input map[string]any) runtime.HookOutput {
		decision := policy.Check(toolName, input)
		if !decision.Allowed {
			tracer.Log("sandbox_block", map[string]any{
				"tool_name":          toolName,
				"tool_use_id":        toolUseID,
				"tool_input_summary": trace.SummarizeToolInput(toolName, input),
				"reason":             decision.Reason,
				"detail":             decision.Detail,
				"blocked_path":       blockedPath(input),
			})
			message := "sandbox restriction: " + decision.Detail
			q.Push(Event{
				Kind:      KindPreTool,
				ToolName:  toolName,
				ToolUseID: toolUseID,
				Action:    ActionBlock,
				Reason:    decision.Reason,
				Message:   message,
			})
			return runtime.HookOutput{Continue: true, Decision: runtime.DecisionBlock, Reason: message}
		}

		tracer.Log("hook_pre_tool", map[string]any{
			"tool_name":          toolName,
			"tool_use_id":        toolUseID,
			"tool_input_summary": trace.SummarizeToolInput(toolName, input),
			"action":             ActionAllow,
		})

		if toolName == "Write" && toolUseID != "" {
			if filePath, _ := input["file_path"].(string); strings.HasSuffix(strings.ToLower(filePath), ".html") {
				pending.Put(toolUseID, filePath)
			}
		}

		q.Push(Event{
			Kind:      KindPreTool,
			ToolName:  toolName,
			ToolUseID: toolUseID,
			Action:    ActionAllow,
			Message:   fmt.Sprintf("hook allowed %s", toolName),
		})
		return runtime.HookOutput{Continue: true}
	}
}

// PostTool returns the audit hook that runs after each tool completes. A
// successful Write of a pending .html artifact additionally queues an
// html_created event pointing at the public sandbox URL.
func PostTool(tracer *trace.Logger, q *Queue, pending *Pending, publicBase string) runtime.PostToolHook {
	return func(toolName, toolUseID string, result string, isError bool) {
		data := map[string]any{
			"tool_name":   toolName,
			"tool_use_id": toolUseID,
			"has_result":  result != "",
		}
		if result != "" {
			data["result_summary"] = trace.SummarizeToolOutput(result)
		}
		tracer.Log("hook_post_tool", data)

		q.Push(Event{
			Kind:      KindPostTool,
			ToolName:  toolName,
			ToolUseID: toolUseID,
			Message:   fmt.Sprintf("hook recorded %s completion", toolName),
		})

		if toolName == "Write" && toolUseID != "" {
			if artifact, ok := pending.Take(toolUseID); ok && !isError && result != "" {
				filename := filepath.Base(filepath.ToSlash(artifact))
				url := strings.TrimRight(publicBase, "/") + path.Join("/sandbox", filename)
				q.Push(Event{
					Kind:      KindHTMLCreated,
					ToolName:  toolName,
					ToolUseID: toolUseID,
					Filename:  filename,
					URL:       url,
					Message:   fmt.Sprintf("HTML file created, available at %s", url),
				})
			}
		}
	}
}

// Permission adapts the sandbox policy to the runtime's can-use-tool
// callback. It peeks rather than checks: the pre-tool hook is the surface
// that charges rate budget, so a tool call is counted once. Denials refuse
// the single tool without interrupting the session.
func Permission(policy *sandbox.Policy) runtime.PermissionFunc {
	return func(toolName string, input map[string]any) runtime.PermissionResult {
		decision := policy.Peek(toolName, input)
		if decision.Allowed {
			return runtime.PermissionResult{Allowed: true}
		}
		return runtime.PermissionResult{
			Allowed: false,
			Message: "sandbox restriction: " + decision.Detail,
		}
	}
}

// blockedPath picks the most relevant path-ish input for a denial record.
func blockedPath(input map[string]any) string {
	if v, _ := input["file_path"].(string); v != "" {
		return v
	}
	if v, _ := input["path"].(string); v != "" {
		return v
	}
	if v, _ := input["command"].(string); v != "" {
		r := []rune(v)
		if len(r) > 100 {
			return string(r[:100])
		}
		return v
	}
	return ""
}
