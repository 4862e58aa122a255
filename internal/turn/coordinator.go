// Package turn orchestrates one chat turn end to end: identifier
// allocation, option assembly, the runtime stream with open-phase retry,
// SSE translation, and finalization of trace, metrics, index and session —
// no matter how the turn ends.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/hooks"
	"github.com/nextlevelbuilder/agentgate/internal/metrics"
	"github.com/nextlevelbuilder/agentgate/internal/runtime"
	"github.com/nextlevelbuilder/agentgate/internal/sandbox"
	"github.com/nextlevelbuilder/agentgate/internal/sessions"
	"github.com/nextlevelbuilder/agentgate/internal/store"
	"github.com/nextlevelbuilder/agentgate/internal/stream"
	"github.com/nextlevelbuilder/agentgate/internal/trace"
)

const (
	defaultMaxTurns       = 30
	defaultThinkingBudget = 10000
	permissionMode        = "default" // required for the permission callback to fire
	indexTimeout          = 5 * time.Second
)

// MCPNames exposes the qualified tool names of connected MCP servers.
type MCPNames interface {
	AllowedToolNames() []string
}

// FrameSink receives a copy of every outbound SSE frame for monitoring.
// Implementations must not block.
type FrameSink interface {
	Broadcast(traceID, event string, data map[string]any)
}

// Deps wires a Coordinator at assembly time. Transport, Policy, Metrics and
// Sessions are required; the rest degrade gracefully when absent.
type Deps struct {
	Transport runtime.Transport
	Policy    *sandbox.Policy
	Metrics   *metrics.Collector
	Sessions  *sessions.Store

	Index     store.TraceIndex // nil: trace files only
	MCP       MCPNames         // nil: no MCP tools advertised
	Events    FrameSink        // nil: no monitor mirror
	ToolNames []string         // static registry tools

	Runtime       config.RuntimeConfig
	MCPServers    map[string]config.MCPServerConfig
	TraceDir      string
	PublicBaseURL string
}

// Coordinator runs chat turns. One instance serves the whole process;
// every turn gets isolated state (trace logger, hook queue, pending map,
// translator).
type Coordinator struct {
	deps Deps
	now  func() time.Time
}

func NewCoordinator(deps Deps) *Coordinator {
	return &Coordinator{deps: deps, now: time.Now}
}

// Request is one chat turn as received from the HTTP layer.
type Request struct {
	Message   string
	SessionID string             // empty: allocate
	History   []sessions.Message // explicit history wins over the session store
	Thinking  bool               // extended-thinking variant
}

// Result summarizes a finished turn for the HTTP layer and tests.
type Result struct {
	TraceID   string
	SessionID string
	Status    string // trace.StatusCompleted or trace.StatusError
}

// Turn is a prepared chat turn. Identifiers are fixed at preparation so
// the HTTP layer can set response headers before streaming begins.
type Turn struct {
	TraceID   string
	SessionID string

	c   *Coordinator
	req Request
}

// Prepare allocates identifiers for a turn.
func (c *Coordinator) Prepare(req Request) *Turn {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Turn{
		TraceID:   trace.NewID(c.now()),
		SessionID: sessionID,
		c:         c,
		req:       req,
	}
}

// Run drives the turn to completion, emitting SSE frames through send.
// It blocks until the terminal frame is out (message_complete or error) or
// the client is gone; the trace, metrics and index are finalized on every
// path.
func (t *Turn) Run(ctx context.Context, send stream.SendFunc) Result {
	c := t.c
	start := c.deps.Metrics.RecordRequestStart()

	tracer := trace.NewLogger(c.deps.TraceDir, t.TraceID, t.SessionID)
	queue := &hooks.Queue{}
	pending := hooks.NewPending()

	if c.deps.Events != nil {
		base := send
		traceID := t.TraceID
		send = func(event string, data map[string]any) error {
			c.deps.Events.Broadcast(traceID, event, data)
			return base(event, data)
		}
	}

	history := t.req.History
	if len(history) == 0 {
		history = c.deps.Sessions.History(t.SessionID)
	}

	tracer.Log("request", map[string]any{
		"message":        t.req.Message,
		"session_id":     t.SessionID,
		"history_length": len(history),
		"thinking":       t.req.Thinking,
	})

	opts := c.buildOptions(tracer, queue, pending, t.req.Thinking)
	tracer.Log("config", map[string]any{
		"model":           opts.Model,
		"max_turns":       opts.MaxTurns,
		"permission_mode": opts.PermissionMode,
		"sandbox_root":    c.deps.Policy.Root(),
		"allowed_tools":   len(opts.AllowedTools),
		"mcp_servers":     len(opts.MCPServers),
	})

	translator := stream.New(stream.Config{
		Tracer:       tracer,
		Metrics:      c.deps.Metrics,
		Queue:        queue,
		Send:         send,
		MaxTurns:     opts.MaxTurns,
		RequestStart: start,
	})

	fail := func(err error) Result {
		t.finalizeError(tracer, send, start, err)
		return Result{TraceID: t.TraceID, SessionID: t.SessionID, Status: trace.StatusError}
	}

	// A coordinator bug must still produce a terminal frame and a finalized
	// trace, so the whole drive runs under a recover.
	var res Result
	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("turn panicked", "trace_id", t.TraceID, "panic", r)
				res = fail(fmt.Errorf("internal error: %v", r))
			}
		}()

		if err := send(stream.EventSessionConfig, map[string]any{
			"max_turns":       opts.MaxTurns,
			"permission_mode": opts.PermissionMode,
			"sandbox_enabled": true,
			"sandbox_root":    c.deps.Policy.Root(),
		}); err != nil {
			res = fail(fmt.Errorf("client disconnected: %w", err))
			return
		}

		prompt := ComposePrompt(c.now(), history, t.req.Message)

		src, err := stream.OpenWithRetry(ctx, c.deps.Transport, prompt, opts, func(attempt int, delay time.Duration, cause error) error {
			tracer.Log("retry", map[string]any{
				"attempt":       attempt,
				"max_retries":   stream.MaxRetries,
				"delay_seconds": delay.Seconds(),
				"error":         cause.Error(),
				"error_type":    trace.ErrorType(cause),
			})
			return send(stream.EventTextDelta, map[string]any{
				"text": fmt.Sprintf("\n[connection retry %d/%d, waiting %.1fs...]\n", attempt, stream.MaxRetries, delay.Seconds()),
			})
		})
		if err != nil {
			res = fail(fmt.Errorf("runtime stream open: %w", err))
			return
		}
		defer src.Close()

		res = t.drive(ctx, src, translator, tracer, send, start, fail)
	}()

	t.indexTrace(tracer)
	return res
}

// drive consumes envelopes until the source closes or the client leaves.
func (t *Turn) drive(ctx context.Context, src runtime.Source, translator *stream.Translator, tracer *trace.Logger, send stream.SendFunc, start time.Time, fail func(error) Result) Result {
	c := t.c
	for {
		select {
		case <-ctx.Done():
			// Client gone. The source is closed by the deferred Close, which
			// cancels the runtime turn; finalize with what we have.
			return fail(fmt.Errorf("client disconnected: %w", ctx.Err()))

		case msg, ok := <-src.Messages():
			if !ok {
				if translator.StopReason() == "" {
					return fail(errors.New("runtime stream ended before completion"))
				}

				// Success: the trace must read completed before the terminal
				// frame reaches the client.
				tracer.Complete()
				c.deps.Metrics.RecordRequestComplete(start, true)
				if err := translator.Finish(); err != nil {
					slog.Debug("client gone during terminal frame", "trace_id", t.TraceID, "error", err)
				}

				c.deps.Sessions.Append(t.SessionID,
					sessions.Message{Role: "user", Content: t.req.Message},
					sessions.Message{Role: "assistant", Content: translator.FinalText()},
				)
				return Result{TraceID: t.TraceID, SessionID: t.SessionID, Status: trace.StatusCompleted}
			}

			if err := translator.HandleMessage(msg); err != nil {
				return fail(fmt.Errorf("client disconnected: %w", err))
			}
		}
	}
}

// finalizeError is the single failure path: trace error, metrics, terminal
// error frame. The frame write is best-effort — on disconnect there is
// nobody left to read it.
func (t *Turn) finalizeError(tracer *trace.Logger, send stream.SendFunc, start time.Time, err error) {
	tracer.LogError(err)
	t.c.deps.Metrics.RecordError(trace.ErrorType(err))
	t.c.deps.Metrics.RecordRequestComplete(start, false)
	tracer.Complete()

	if serr := send(stream.EventError, map[string]any{
		"error":      err.Error(),
		"details":    trace.ErrorType(err),
		"trace_file": tracer.Path(),
	}); serr != nil {
		slog.Debug("error frame not delivered", "trace_id", t.TraceID, "error", serr)
	}
}

// indexTrace mirrors the finished trace into the index. Runs with its own
// context: the request context is typically canceled by now.
func (t *Turn) indexTrace(tracer *trace.Logger) {
	if t.c.deps.Index == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()
	snapshot := tracer.Snapshot()
	if err := t.c.deps.Index.Upsert(ctx, store.MetaFromTrace(&snapshot)); err != nil {
		slog.Warn("trace index upsert failed", "trace_id", t.TraceID, "error", err)
	}
}

// buildOptions assembles the per-turn runtime options: model selection,
// tool lists, MCP servers, and the enforcement callbacks bound to this
// turn's trace and queue.
func (c *Coordinator) buildOptions(tracer *trace.Logger, queue *hooks.Queue, pending *hooks.Pending, thinking bool) runtime.Options {
	rt := c.deps.Runtime

	model := rt.Model
	thinkingBudget := 0
	if thinking {
		if rt.ThinkingModel != "" {
			model = rt.ThinkingModel
		}
		thinkingBudget = rt.ThinkingBudgetTokens
		if thinkingBudget <= 0 {
			thinkingBudget = defaultThinkingBudget
		}
	}

	maxTurns := rt.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	allowed := make([]string, 0, len(c.deps.ToolNames)+8)
	allowed = append(allowed, c.deps.ToolNames...)
	if c.deps.MCP != nil {
		allowed = append(allowed, c.deps.MCP.AllowedToolNames()...)
	}

	var servers map[string]runtime.MCPServer
	if len(c.deps.MCPServers) > 0 {
		servers = make(map[string]runtime.MCPServer, len(c.deps.MCPServers))
		for name, s := range c.deps.MCPServers {
			servers[name] = runtime.MCPServer{Command: s.Command, Args: s.Args, Env: s.Env}
		}
	}

	cwd := rt.Workdir
	if cwd == "" {
		cwd = c.deps.Policy.Root()
	}

	return runtime.Options{
		Model:        model,
		SystemPrompt: systemPrompt,
		AllowedTools: allowed,
		// The runtime's built-in web search is unavailable in this
		// deployment; the /api/search proxy covers the gap.
		DisallowedTools:   []string{"WebSearch"},
		MCPServers:        servers,
		PermissionMode:    permissionMode,
		MaxTurns:          maxTurns,
		MaxThinkingTokens: thinkingBudget,
		Cwd:               cwd,
		CanUseTool:        hooks.Permission(c.deps.Policy),
		Hooks: runtime.Hooks{
			PreToolUse: []runtime.PreToolHook{
				// Keep-stream-open must run first or the permission callback
				// never fires.
				hooks.KeepStreamOpen(tracer),
				hooks.PreTool(c.deps.Policy, tracer, queue, pending),
			},
			PostToolUse: []runtime.PostToolHook{
				hooks.PostTool(tracer, queue, pending, c.deps.PublicBaseURL),
			},
		},
		Env: map[string]string{
			"LANG":   "C.UTF-8",
			"LC_ALL": "C.UTF-8",
		},
	}
}
