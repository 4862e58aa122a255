package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger accumulates events for a single turn and persists the document
// after every append. Logging never fails the turn: persistence errors are
// reported through slog and the in-memory document stays intact.
//
// Safe for concurrent use; the engine, hooks and translator all log.
type Logger struct {
	mu     sync.Mutex
	dir    string
	id     string
	start  time.Time
	meta   Metadata
	stats  Stats
	events []Event

	now func() time.Time
}

// NewLogger opens a trace in dir. The directory is created if needed.
func NewLogger(dir, id, sessionID string) *Logger {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("trace dir create failed", "dir", dir, "error", err)
	}
	now := time.Now()
	l := &Logger{
		dir:   dir,
		id:    id,
		start: now,
		meta: Metadata{
			TraceID:   id,
			SessionID: sessionID,
			StartTime: now,
			Status:    StatusRunning,
			Version:   Version,
		},
		now: time.Now,
	}
	return l
}

// ID returns the trace identifier.
func (l *Logger) ID() string { return l.id }

// Path returns the document's final location.
func (l *Logger) Path() string { return filepath.Join(l.dir, l.id+".json") }

// Log appends an event, updates the running stats, and flushes.
func (l *Logger) Log(eventType string, data map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	event := Event{
		Timestamp: now,
		ElapsedMS: now.Sub(l.start).Milliseconds(),
		EventType: eventType,
		Summary:   summarize(eventType, data),
		Data:      data,
	}

	switch eventType {
	case "tool_start":
		l.stats.ToolCalls++
		if dataString(data, "name") == "Task" {
			l.stats.SubAgents++
		}
		if it := dataInt(data, "iteration"); it > l.stats.Iterations {
			l.stats.Iterations = it
		}
	case "error":
		l.stats.Errors++
	case "sandbox_block":
		l.stats.SandboxBlocks++
	case "hook_pre_tool", "hook_post_tool":
		l.stats.HooksTriggered++
	case "thinking":
		l.stats.ThinkingBlocks++
		l.stats.ThinkingChars += len([]rune(dataString(data, "thinking")))
	}

	l.events = append(l.events, event)
	l.save()
}

// LogError marks the trace failed and records the error as an event.
func (l *Logger) LogError(err error) {
	l.mu.Lock()
	l.meta.Status = StatusError
	l.meta.Error = &ErrorInfo{Type: ErrorType(err), Message: err.Error()}
	l.mu.Unlock()

	l.Log("error", map[string]any{
		"error": err.Error(),
		"type":  ErrorType(err),
	})
}

// Complete finalizes the document: terminal status, end time, duration and
// the aggregated stats. Traces that already failed keep their error status.
func (l *Logger) Complete() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.meta.Status != StatusError {
		l.meta.Status = StatusCompleted
	}
	l.meta.EndTime = &now
	duration := now.Sub(l.start).Milliseconds()
	l.meta.DurationMS = &duration
	stats := l.stats
	l.meta.Stats = &stats
	l.save()
}

// Stats returns a copy of the running counters.
func (l *Logger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Snapshot returns a copy of the current document.
func (l *Logger) Snapshot() File {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := make([]Event, len(l.events))
	copy(events, l.events)
	return File{Metadata: l.meta, Events: events}
}

// save writes the document to a temp file and renames it into place.
// Callers hold l.mu.
func (l *Logger) save() {
	doc := File{Metadata: l.meta, Events: l.events}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		slog.Warn("trace encode failed", "trace_id", l.id, "error", err)
		return
	}

	tmp := l.Path() + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		slog.Warn("trace write failed", "trace_id", l.id, "error", err)
		return
	}
	if err := os.Rename(tmp, l.Path()); err != nil {
		slog.Warn("trace rename failed", "trace_id", l.id, "error", err)
	}
}

// ErrorType derives a stable code for an error. Errors may brand themselves
// with an ErrorType() method; anything else reports its Go type, with the
// anonymous stdlib wrappers collapsed to plain "error".
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	var typed interface{ ErrorType() string }
	if errors.As(err, &typed) {
		return typed.ErrorType()
	}
	switch t := fmt.Sprintf("%T", err); t {
	case "*errors.errorString", "*fmt.wrapError":
		return "error"
	default:
		return strings.TrimPrefix(t, "*")
	}
}
