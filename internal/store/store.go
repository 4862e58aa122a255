// Package store defines the trace index: a queryable projection of trace
// documents so listing and filtering don't re-read every JSON file.
//
// Two backends implement it: lite (embedded SQLite) for standalone mode and
// pg (Postgres) for managed mode. The trace files on disk stay the source of
// truth; the index can always be rebuilt from them.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no row exists for the trace ID.
var ErrNotFound = errors.New("store: trace not found")

// TraceMeta is one indexed trace row.
type TraceMeta struct {
	TraceID        string     `json:"trace_id"`
	SessionID      string     `json:"session_id,omitempty"`
	Status         string     `json:"status"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	DurationMS     *int64     `json:"duration_ms,omitempty"`
	FirstMessage   string     `json:"first_message,omitempty"`
	ToolsUsed      []string   `json:"tools_used"`
	ToolCalls      int        `json:"tool_calls"`
	SubAgents      int        `json:"sub_agents"`
	Errors         int        `json:"errors"`
	SandboxBlocks  int        `json:"sandbox_blocks"`
	HooksTriggered int        `json:"hooks_triggered"`
	Iterations     int        `json:"iterations"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Status           string // running | completed | error
	HasErrors        *bool
	HasSandboxBlocks *bool
	Search           string // substring match on first message, case-insensitive
	Limit            int    // default 50, capped at 200
	Offset           int
}

// Normalize applies defaults and caps.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// TraceIndex persists trace metadata. Implementations must be safe for
// concurrent use. Delete also satisfies the janitor's pruner interface.
type TraceIndex interface {
	Upsert(ctx context.Context, meta TraceMeta) error
	List(ctx context.Context, f Filter) ([]TraceMeta, error)
	// Count reports how many rows match f, ignoring Limit/Offset.
	Count(ctx context.Context, f Filter) (int, error)
	Get(ctx context.Context, traceID string) (*TraceMeta, error)
	Delete(ctx context.Context, traceID string) error
	Close() error
}
