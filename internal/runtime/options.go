package runtime

import "context"

// PermissionResult is the outcome of the can-use-tool callback.
type PermissionResult struct {
	Allowed   bool
	Message   string
	Interrupt bool
}

// PermissionFunc is the permission surface consulted before every tool
// execution, independent of the pre-tool hooks. Both must approve.
type PermissionFunc func(toolName string, input map[string]any) PermissionResult

// HookOutput is a pre-tool hook's verdict. Decision "block" stops the tool;
// Continue keeps the control stream open for the permission callback.
type HookOutput struct {
	Continue bool
	Decision string
	Reason   string
}

// DecisionBlock is the HookOutput.Decision value that stops a tool.
const DecisionBlock = "block"

// PreToolHook runs before a tool executes.
type PreToolHook func(toolName, toolUseID string, input map[string]any) HookOutput

// PostToolHook runs after a tool finishes.
type PostToolHook func(toolName, toolUseID string, result string, isError bool)

// Hooks groups the per-turn hook chains; each chain runs in order.
type Hooks struct {
	PreToolUse  []PreToolHook
	PostToolUse []PostToolHook
}

// MCPServer describes one stdio MCP server whose tools the runtime may call.
type MCPServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// MCPRouter executes tool calls addressed as mcp__<server>__<tool>.
type MCPRouter interface {
	CallTool(ctx context.Context, name string, input map[string]any) (string, error)
}

// Options configures one turn against a runtime.
type Options struct {
	Model             string
	SystemPrompt      string
	AllowedTools      []string
	DisallowedTools   []string
	MCPServers        map[string]MCPServer
	PermissionMode    string
	MaxTurns          int
	MaxThinkingTokens int // > 0 enables extended thinking with this budget
	Cwd               string
	CanUseTool        PermissionFunc
	Hooks             Hooks
	Env               map[string]string
}

// Allowed reports whether a tool name passes the allow/deny lists. An empty
// allow list admits everything not explicitly disallowed.
func (o Options) Allowed(name string) bool {
	for _, d := range o.DisallowedTools {
		if d == name {
			return false
		}
	}
	if len(o.AllowedTools) == 0 {
		return true
	}
	for _, a := range o.AllowedTools {
		if a == name {
			return true
		}
	}
	return false
}

// Source is a live stream of envelopes for one turn. Messages closes when
// the turn ends; Close releases the underlying stream early.
type Source interface {
	Messages() <-chan Message
	Close() error
}

// Transport opens turn streams. Implementations: the in-process Engine and
// the remote WebSocket client.
type Transport interface {
	Open(ctx context.Context, prompt string, opts Options) (Source, error)
}
