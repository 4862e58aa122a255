// Package stream turns runtime envelopes into the SSE frames the browser
// UI renders: text and thinking deltas, tool lifecycle, hook activity,
// sub-agent spawn/complete, cost updates, and the terminal frame.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// SSE event types pushed to the browser during a turn.
const (
	EventSessionConfig   = "session_config"
	EventTextDelta       = "text_delta"
	EventThinkingDelta   = "thinking_delta"
	EventToolStart       = "tool_start"
	EventToolResult      = "tool_result"
	EventAgentSpawn      = "agent_spawn"
	EventAgentComplete   = "agent_complete"
	EventHookPreTool     = "hook_pre_tool"
	EventHookPostTool    = "hook_post_tool"
	EventHTMLCreated     = "html_created"
	EventCostUpdate      = "cost_update"
	EventMessageComplete = "message_complete"
	EventError           = "error"
)

// SendFunc delivers one SSE frame. An error means the client is gone.
type SendFunc func(event string, data map[string]any) error

// Writer frames events onto an http.ResponseWriter and flushes after every
// frame so deltas reach the browser as they are produced.
type Writer struct {
	mu sync.Mutex
	w  http.ResponseWriter
	f  http.Flusher
}

// NewWriter prepares w for event streaming. Headers must not have been
// written yet.
func NewWriter(w http.ResponseWriter) *Writer {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	f, _ := w.(http.Flusher)
	return &Writer{w: w, f: f}
}

// Send writes one "event:" + "data:" frame and flushes it.
func (sw *Writer) Send(event string, data map[string]any) error {
	payload, err := encodeJSON(data)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	if sw.f != nil {
		sw.f.Flush()
	}
	return nil
}

// encodeJSON marshals without HTML escaping so URLs and code snippets
// survive verbatim. Newlines inside strings stay escaped, which keeps the
// SSE framing intact.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
