// Package trace records agent turns as append-only JSON documents, one file
// per turn. Files are the source of truth for the trace APIs; storage
// backends only index them. Every flush goes through a temp file and rename
// so readers never observe a partial document.
package trace

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trace document format version.
const Version = "2.0"

// Trace lifecycle states recorded in metadata.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Stats aggregates counters over a trace's events.
type Stats struct {
	ToolCalls      int `json:"tool_calls"`
	Iterations     int `json:"iterations"`
	SubAgents      int `json:"sub_agents"`
	Errors         int `json:"errors"`
	HooksTriggered int `json:"hooks_triggered"`
	SandboxBlocks  int `json:"sandbox_blocks"`
	ThinkingBlocks int `json:"thinking_blocks"`
	ThinkingChars  int `json:"thinking_chars"`
}

// ErrorInfo captures the failure that ended a trace.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Metadata is the document header. EndTime, DurationMS, Error and Stats are
// filled when the trace finishes.
type Metadata struct {
	TraceID    string     `json:"trace_id"`
	SessionID  string     `json:"session_id,omitempty"`
	StartTime  time.Time  `json:"start_time"`
	Status     string     `json:"status"`
	Version    string     `json:"version"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	DurationMS *int64     `json:"duration_ms,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
	Stats      *Stats     `json:"stats,omitempty"`
}

// Event is one timeline entry. Data carries the event-type-specific payload;
// Summary is a short human-readable line derived from it.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	ElapsedMS int64          `json:"elapsed_ms"`
	EventType string         `json:"event_type"`
	Summary   string         `json:"summary"`
	Data      map[string]any `json:"data"`
}

// File is the complete on-disk document.
type File struct {
	Metadata Metadata `json:"metadata"`
	Events   []Event  `json:"events"`
}

// NewID mints a trace identifier: a sortable timestamp plus a short random
// suffix, e.g. trace_20260825_153012_9f3ab2c1.
func NewID(now time.Time) string {
	return fmt.Sprintf("trace_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
}

// Accessors tolerant of both freshly built payloads (Go ints) and payloads
// reloaded from JSON (float64).

func dataString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func dataInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func dataBool(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}
