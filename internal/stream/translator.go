package stream

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentgate/internal/hooks"
	"github.com/nextlevelbuilder/agentgate/internal/metrics"
	"github.com/nextlevelbuilder/agentgate/internal/runtime"
	"github.com/nextlevelbuilder/agentgate/internal/trace"
)

// contextMax is the model context window used for occupancy reporting.
const contextMax = 200000

// maxTracedPayload bounds the full input/output copies embedded in trace
// events so a single tool call cannot blow up the document.
const maxTracedPayload = 5000

const (
	toolCompleted = "completed"
	toolErrored   = "error"
)

// invocation is the translator's record of one in-flight tool call.
type invocation struct {
	name          string
	iteration     int
	parallelGroup string
	start         time.Time
}

// Config wires a Translator to its turn.
type Config struct {
	Tracer  *trace.Logger
	Metrics *metrics.Collector
	Queue   *hooks.Queue
	Send    SendFunc

	MaxTurns     int
	RequestStart time.Time
}

// Translator converts the runtime envelopes of one turn into SSE frames
// and trace events. It carries per-turn state (accumulated text, tool
// invocations, iteration and sub-agent depth) and is driven from a single
// goroutine; it is not safe for concurrent use.
type Translator struct {
	cfg Config

	currentText  string
	toolStates   map[string]*invocation
	blocked      map[string]bool
	iteration    int
	depth        int
	stopReason   string
	inputTokens  int
	outputTokens int
	toolsUsed    []string
	firstToken   bool

	now     func() time.Time
	groupID func() string
}

// New returns a Translator for one turn.
func New(cfg Config) *Translator {
	return &Translator{
		cfg:        cfg,
		toolStates: make(map[string]*invocation),
		blocked:    make(map[string]bool),
		now:        time.Now,
		groupID:    func() string { return uuid.NewString()[:8] },
	}
}

// HandleMessage processes one envelope. The returned error is a transport
// failure (the client is gone); trace state is already recorded when it
// occurs, so the caller can finalize.
func (t *Translator) HandleMessage(msg runtime.Message) error {
	t.cfg.Tracer.Log("raw_message", map[string]any{"subtype": msg.Subtype})

	if msg.Subtype == runtime.SubtypeInit {
		return nil
	}
	if msg.Type == runtime.TypeResult {
		return t.handleResult(msg)
	}
	if len(msg.Content) > 0 {
		return t.handleContent(msg)
	}
	return nil
}

// Finish flushes trailing hook frames, records the completion event, and
// emits the terminal message_complete frame.
func (t *Translator) Finish() error {
	if err := t.drainHooks(); err != nil {
		return err
	}
	tools := t.uniqueTools()
	total := t.inputTokens + t.outputTokens
	t.cfg.Tracer.Log("complete", map[string]any{
		"tools_used":   tools,
		"total_tokens": total,
	})
	return t.cfg.Send(EventMessageComplete, map[string]any{
		"tools_used":   tools,
		"total_tokens": total,
		"trace_file":   t.cfg.Tracer.Path(),
		"stop_reason":  orNil(t.stopReason),
	})
}

// StopReason reports the inferred stop reason, empty until a result
// envelope arrives.
func (t *Translator) StopReason() string { return t.stopReason }

// FinalText returns the assistant text accumulated since the last tool
// batch; after the result envelope this is the turn's final answer.
func (t *Translator) FinalText() string { return t.currentText }

func (t *Translator) handleContent(msg runtime.Message) error {
	var toolBlocks int
	for _, b := range msg.Content {
		if blockKind(b) == "tool_use" {
			toolBlocks++
		}
	}
	group := ""
	if toolBlocks > 1 {
		group = t.groupID()
	}

	for _, b := range msg.Content {
		var err error
		switch blockKind(b) {
		case "thinking":
			err = t.onThinking(b)
		case "text":
			err = t.onText(b.Text)
		case "tool_use":
			err = t.onToolUse(b, group, toolBlocks)
		case "tool_result":
			err = t.onToolResult(b)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Translator) onThinking(b runtime.Block) error {
	text := b.Thinking
	if text == "" {
		text = b.Text
	}
	text = Sanitize(text)
	if text == "" {
		return nil
	}
	length := utf8.RuneCountInString(text)
	t.cfg.Tracer.Log("thinking", map[string]any{
		"thinking":         text,
		"length":           length,
		"estimated_tokens": length / 4,
	})
	return t.cfg.Send(EventThinkingDelta, map[string]any{"thinking": text})
}

func (t *Translator) onText(text string) error {
	if text == "" || text == t.currentText {
		return nil
	}
	delta := text
	if strings.HasPrefix(text, t.currentText) {
		delta = text[len(t.currentText):]
	}
	delta = Sanitize(delta)

	// First token is the moment new text is known, even if the visible
	// delta sanitized away.
	if !t.firstToken && t.cfg.Metrics != nil {
		t.cfg.Metrics.RecordFirstToken(t.cfg.RequestStart)
		t.firstToken = true
	}
	if delta == "" {
		return nil
	}
	t.currentText = text
	t.cfg.Tracer.Log("text_delta", map[string]any{"delta": delta})
	return t.cfg.Send(EventTextDelta, map[string]any{"text": delta})
}

func (t *Translator) onToolUse(b runtime.Block, group string, batch int) error {
	// A fresh batch after visible text opens a new iteration.
	if len(t.toolStates) == 0 || t.currentText != "" {
		t.iteration++
		t.currentText = ""
	}

	t.toolStates[b.ID] = &invocation{
		name:          b.Name,
		iteration:     t.iteration,
		parallelGroup: group,
		start:         t.now(),
	}
	t.toolsUsed = append(t.toolsUsed, b.Name)
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.RecordToolCall(b.Name)
	}

	encoded := ""
	if len(b.Input) > 0 {
		encoded = encodeInput(b.Input)
	}
	fullInput, truncated := boundPayload(encoded)
	count := 1
	if batch > 1 {
		count = batch
	}
	t.cfg.Tracer.Log("tool_start", map[string]any{
		"tool_id":         b.ID,
		"name":            b.Name,
		"input_summary":   trace.SummarizeToolInput(b.Name, b.Input),
		"full_input":      orNil(fullInput),
		"input_truncated": truncated,
		"input_length":    utf8.RuneCountInString(encoded),
		"iteration":       t.iteration,
		"parallel_group":  orNil(group),
		"parallel_count":  count,
		"is_mcp":          strings.HasPrefix(b.Name, "mcp__"),
	})

	if err := t.drainHooks(); err != nil {
		return err
	}
	if t.blocked[b.ID] {
		// Denied before execution: no start frame, and no result envelope
		// will follow.
		delete(t.toolStates, b.ID)
		delete(t.blocked, b.ID)
		return nil
	}

	if b.Name == "Task" {
		t.depth++
		return t.cfg.Send(EventAgentSpawn, map[string]any{
			"agent_id":       b.ID,
			"agent_type":     stringField(b.Input, "subagent_type", "unknown"),
			"description":    stringField(b.Input, "description", ""),
			"parent_tool_id": b.ID,
			"iteration":      t.iteration,
			"depth":          t.depth,
		})
	}
	return t.cfg.Send(EventToolStart, map[string]any{
		"tool_id":   b.ID,
		"name":      b.Name,
		"input":     trace.SummarizeToolInput(b.Name, b.Input),
		"iteration": t.iteration,
	})
}

func (t *Translator) onToolResult(b runtime.Block) error {
	status := toolCompleted
	if b.IsError {
		status = toolErrored
	}

	// Results for ids we never saw still flow through; the frame just
	// carries less context.
	name := ""
	var durationMS, iteration, group any
	if inv, ok := t.toolStates[b.ToolUseID]; ok {
		name = inv.name
		durationMS = t.now().Sub(inv.start).Milliseconds()
		iteration = inv.iteration
		group = orNil(inv.parallelGroup)
	}

	fullOutput, truncated := boundPayload(b.Content)
	t.cfg.Tracer.Log("tool_result", map[string]any{
		"tool_id":          b.ToolUseID,
		"tool_name":        name,
		"status":           status,
		"is_error":         b.IsError,
		"output_summary":   trace.SummarizeToolOutput(b.Content),
		"full_output":      orNil(fullOutput),
		"output_truncated": truncated,
		"output_length":    utf8.RuneCountInString(b.Content),
		"duration_ms":      durationMS,
		"iteration":        iteration,
		"parallel_group":   group,
	})

	var errField any
	if b.IsError {
		errField = b.Content
	}
	if err := t.cfg.Send(EventToolResult, map[string]any{
		"tool_id": b.ToolUseID,
		"status":  status,
		"output":  trace.SummarizeToolOutput(b.Content),
		"error":   errField,
	}); err != nil {
		return err
	}

	if err := t.drainHooks(); err != nil {
		return err
	}

	if name == "Task" && t.depth > 0 {
		if err := t.cfg.Send(EventAgentComplete, map[string]any{"agent_id": b.ToolUseID}); err != nil {
			return err
		}
		t.depth--
		t.cfg.Tracer.Log("agent_complete", map[string]any{
			"agent_id":  b.ToolUseID,
			"new_depth": t.depth,
		})
	}
	return nil
}

func (t *Translator) handleResult(msg runtime.Message) error {
	switch {
	case msg.IsError:
		t.stopReason = "error"
	case t.cfg.MaxTurns > 0 && msg.NumTurns >= t.cfg.MaxTurns:
		t.stopReason = "max_turns"
	default:
		t.stopReason = "end_turn"
	}

	// The result text is cumulative; flush whatever the turn has not
	// already streamed.
	if msg.Result != "" && msg.Result != t.currentText {
		delta := msg.Result
		if strings.HasPrefix(msg.Result, t.currentText) {
			delta = msg.Result[len(t.currentText):]
		}
		if delta = Sanitize(delta); delta != "" {
			t.currentText = msg.Result
			t.cfg.Tracer.Log("text_delta", map[string]any{"delta": delta})
			if err := t.cfg.Send(EventTextDelta, map[string]any{"text": delta}); err != nil {
				return err
			}
		}
	}

	if msg.Usage == nil {
		return nil
	}
	t.inputTokens = msg.Usage.InputTokens
	t.outputTokens = msg.Usage.OutputTokens
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.RecordTokens(t.inputTokens, t.outputTokens)
	}

	contextUsed := t.inputTokens + t.outputTokens
	contextPercent := round2(float64(contextUsed) / contextMax * 100)
	var overheadMS any
	if msg.DurationMS > 0 && msg.DurationAPIMS > 0 {
		overheadMS = msg.DurationMS - msg.DurationAPIMS
	}
	t.cfg.Tracer.Log("usage", map[string]any{
		"input_tokens":          t.inputTokens,
		"output_tokens":         t.outputTokens,
		"cost":                  msg.TotalCostUSD,
		"context_used":          contextUsed,
		"context_max":           contextMax,
		"context_percent":       contextPercent,
		"duration_ms":           msg.DurationMS,
		"duration_api_ms":       msg.DurationAPIMS,
		"runtime_overhead_ms":   overheadMS,
		"num_turns":             msg.NumTurns,
		"cache_read_tokens":     msg.Usage.CacheReadInputTokens,
		"cache_creation_tokens": msg.Usage.CacheCreationInputTokens,
	})
	return t.cfg.Send(EventCostUpdate, map[string]any{
		"input_tokens":    t.inputTokens,
		"output_tokens":   t.outputTokens,
		"cost":            round6(msg.TotalCostUSD),
		"total_cost":      round6(msg.TotalCostUSD),
		"context_used":    contextUsed,
		"context_max":     contextMax,
		"context_percent": contextPercent,
	})
}

// drainHooks flushes queued hook activity as SSE frames. Block decisions
// are remembered so the affected tool is suppressed whenever its events
// happen to drain.
func (t *Translator) drainHooks() error {
	for _, ev := range t.cfg.Queue.Drain() {
		switch ev.Kind {
		case hooks.KindPreTool:
			action := ev.Action
			if action == "" {
				action = hooks.ActionAllow
			}
			if action == hooks.ActionBlock && ev.ToolUseID != "" {
				t.blocked[ev.ToolUseID] = true
			}
			if err := t.cfg.Send(EventHookPreTool, map[string]any{
				"hook_type": "PreToolUse",
				"tool_name": ev.ToolName,
				"action":    action,
				"message":   ev.Message,
			}); err != nil {
				return err
			}
		case hooks.KindPostTool:
			if err := t.cfg.Send(EventHookPostTool, map[string]any{
				"hook_type": "PostToolUse",
				"tool_name": ev.ToolName,
				"message":   ev.Message,
			}); err != nil {
				return err
			}
		case hooks.KindHTMLCreated:
			if err := t.cfg.Send(EventHTMLCreated, map[string]any{
				"filename": ev.Filename,
				"url":      ev.URL,
				"message":  ev.Message,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Translator) uniqueTools() []string {
	seen := make(map[string]bool, len(t.toolsUsed))
	unique := make([]string, 0, len(t.toolsUsed))
	for _, name := range t.toolsUsed {
		if !seen[name] {
			seen[name] = true
			unique = append(unique, name)
		}
	}
	return unique
}

// blockKind classifies a content block, tolerating envelopes that omit the
// type tag by sniffing the populated fields.
func blockKind(b runtime.Block) string {
	switch b.Type {
	case "thinking", "text", "tool_use", "tool_result":
		return b.Type
	}
	switch {
	case b.Thinking != "":
		return "thinking"
	case b.Name != "" && b.ID != "":
		return "tool_use"
	case b.ToolUseID != "":
		return "tool_result"
	case b.Text != "":
		return "text"
	}
	return ""
}

func encodeInput(input map[string]any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(input); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}

// boundPayload caps a traced payload at maxTracedPayload runes and reports
// whether it was cut.
func boundPayload(s string) (string, bool) {
	if utf8.RuneCountInString(s) <= maxTracedPayload {
		return s, false
	}
	return string([]rune(s)[:maxTracedPayload]), true
}

func stringField(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// orNil maps the empty string to JSON null, matching fields that are
// optional in the documents.
func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
