// Package remote is the WebSocket transport to an external agent runtime
// speaking the envelope protocol. The gateway dials the runtime once per
// turn, sends a turn_request, and relays envelopes until the result frame.
// Control requests flowing the other way (permission checks, hook
// callbacks) are answered inline from the turn's Options so remote turns
// keep the exact enforcement surfaces of in-process ones.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/nextlevelbuilder/agentgate/internal/runtime"
)

const readLimit = 1 << 20 // 1MB, matches the stream scanner budget

// Transport dials a remote runtime for each turn.
type Transport struct {
	url string
}

var _ runtime.Transport = (*Transport)(nil)

func New(url string) *Transport {
	return &Transport{url: url}
}

// Open dials the runtime and starts a turn. The source's channel closes
// after the result envelope or when the connection drops.
func (t *Transport) Open(ctx context.Context, prompt string, opts runtime.Options) (runtime.Source, error) {
	conn, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("runtime dial %s: %w", t.url, err)
	}
	conn.SetReadLimit(readLimit)

	runCtx, cancel := context.WithCancel(ctx)
	src := &wsSource{
		conn:   conn,
		opts:   opts,
		ch:     make(chan runtime.Message, 16),
		ctx:    runCtx,
		cancel: cancel,
	}

	req := turnRequest{Type: "turn_request", Prompt: prompt, Options: toWireOptions(opts)}
	if err := src.writeJSON(ctx, req); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "turn request failed")
		return nil, fmt.Errorf("runtime turn request: %w", err)
	}

	go src.readLoop()
	return src, nil
}

type turnRequest struct {
	Type    string      `json:"type"`
	Prompt  string      `json:"prompt"`
	Options wireOptions `json:"options"`
}

// wireOptions is the serializable subset of Options; callbacks stay local
// and are reached through control requests.
type wireOptions struct {
	Model             string                       `json:"model,omitempty"`
	SystemPrompt      string                       `json:"system_prompt,omitempty"`
	AllowedTools      []string                     `json:"allowed_tools,omitempty"`
	DisallowedTools   []string                     `json:"disallowed_tools,omitempty"`
	MCPServers        map[string]runtime.MCPServer `json:"mcp_servers,omitempty"`
	PermissionMode    string                       `json:"permission_mode,omitempty"`
	MaxTurns          int                          `json:"max_turns,omitempty"`
	MaxThinkingTokens int                          `json:"max_thinking_tokens,omitempty"`
	Cwd               string                       `json:"cwd,omitempty"`
	Env               map[string]string            `json:"env,omitempty"`
}

func toWireOptions(o runtime.Options) wireOptions {
	return wireOptions{
		Model:             o.Model,
		SystemPrompt:      o.SystemPrompt,
		AllowedTools:      o.AllowedTools,
		DisallowedTools:   o.DisallowedTools,
		MCPServers:        o.MCPServers,
		PermissionMode:    o.PermissionMode,
		MaxTurns:          o.MaxTurns,
		MaxThinkingTokens: o.MaxThinkingTokens,
		Cwd:               o.Cwd,
		Env:               o.Env,
	}
}

// frame is every message the runtime can send: an envelope (type system/
// assistant/user/result) or a control request. Unknown types are skipped so
// protocol additions do not break older gateways.
type frame struct {
	runtime.Message
	RequestID string          `json:"request_id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

type controlParams struct {
	Event     string         `json:"event,omitempty"` // PreToolUse | PostToolUse
	ToolName  string         `json:"tool_name,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Result    string         `json:"result,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type controlResponse struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	Response  map[string]any `json:"response"`
}

type wsSource struct {
	conn   *websocket.Conn
	opts   runtime.Options
	ch     chan runtime.Message
	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *wsSource) Messages() <-chan runtime.Message { return s.ch }

func (s *wsSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "turn closed")
	})
	return nil
}

// writeJSON sends one text frame; coder/websocket allows a single writer at
// a time, so writes are serialized here.
func (s *wsSource) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSource) readLoop() {
	defer close(s.ch)
	defer s.Close()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				slog.Debug("runtime connection closed", "error", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("runtime sent undecodable frame", "error", err)
			continue
		}

		switch f.Type {
		case "control_request":
			s.handleControl(f)
		case runtime.TypeSystem, runtime.TypeAssistant, runtime.TypeUser, runtime.TypeResult:
			select {
			case s.ch <- f.Message:
			case <-s.ctx.Done():
				return
			}
			if f.Type == runtime.TypeResult {
				return
			}
		default:
			slog.Debug("skipping unknown runtime frame", "type", f.Type)
		}
	}
}

// handleControl answers a runtime-side callback. The runtime blocks its
// tool until the response lands, so these run inline to keep envelope
// ordering intact.
func (s *wsSource) handleControl(f frame) {
	var params controlParams
	if len(f.Params) > 0 {
		if err := json.Unmarshal(f.Params, &params); err != nil {
			slog.Warn("undecodable control params", "method", f.Method, "error", err)
		}
	}

	var resp map[string]any
	switch f.Method {
	case "can_use_tool":
		resp = s.answerPermission(params)
	case "hook_callback":
		resp = s.answerHook(params)
	default:
		resp = map[string]any{"error": "unknown method: " + f.Method}
	}

	out := controlResponse{Type: "control_response", RequestID: f.RequestID, Response: resp}
	if err := s.writeJSON(s.ctx, out); err != nil && s.ctx.Err() == nil {
		slog.Warn("control response failed", "method", f.Method, "error", err)
	}
}

func (s *wsSource) answerPermission(p controlParams) map[string]any {
	if s.opts.CanUseTool == nil {
		return map[string]any{"behavior": "allow"}
	}
	res := s.opts.CanUseTool(p.ToolName, p.Input)
	if res.Allowed {
		return map[string]any{"behavior": "allow"}
	}
	out := map[string]any{"behavior": "deny"}
	if res.Message != "" {
		out["message"] = res.Message
	}
	if res.Interrupt {
		out["interrupt"] = true
	}
	return out
}

func (s *wsSource) answerHook(p controlParams) map[string]any {
	switch p.Event {
	case "PreToolUse":
		for _, hook := range s.opts.Hooks.PreToolUse {
			o := hook(p.ToolName, p.ToolUseID, p.Input)
			if o.Decision == runtime.DecisionBlock {
				return map[string]any{"continue": o.Continue, "decision": o.Decision, "reason": o.Reason}
			}
		}
		return map[string]any{"continue": true}
	case "PostToolUse":
		for _, hook := range s.opts.Hooks.PostToolUse {
			hook(p.ToolName, p.ToolUseID, p.Result, p.IsError)
		}
		return map[string]any{"continue": true}
	default:
		return map[string]any{"error": "unknown hook event: " + p.Event}
	}
}
