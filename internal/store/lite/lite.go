// Package lite implements store.TraceIndex on pure-Go SQLite. Zero CGO, one
// file (`traces.db`), used in standalone mode.
package lite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/nextlevelbuilder/agentgate/internal/store"
)

// Index is a SQLite-backed trace index. A single connection serializes all
// writers, which sidesteps SQLITE_BUSY under concurrent turns.
type Index struct {
	db *sql.DB
}

var _ store.TraceIndex = (*Index)(nil)

// Open opens (or creates) the index database and ensures the schema.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	idx := &Index{db: db}
	if err := idx.init(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *Index) init() error {
	_, err := i.db.Exec(`CREATE TABLE IF NOT EXISTS traces (
		trace_id        TEXT PRIMARY KEY,
		session_id      TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		start_time      INTEGER NOT NULL,
		end_time        INTEGER,
		duration_ms     INTEGER,
		first_message   TEXT NOT NULL DEFAULT '',
		tools_used      TEXT NOT NULL DEFAULT '[]',
		tool_calls      INTEGER NOT NULL DEFAULT 0,
		sub_agents      INTEGER NOT NULL DEFAULT 0,
		errors          INTEGER NOT NULL DEFAULT 0,
		sandbox_blocks  INTEGER NOT NULL DEFAULT 0,
		hooks_triggered INTEGER NOT NULL DEFAULT 0,
		iterations      INTEGER NOT NULL DEFAULT 0,
		error_message   TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		return fmt.Errorf("create traces table: %w", err)
	}
	_, _ = i.db.Exec(`CREATE INDEX IF NOT EXISTS idx_traces_start ON traces(start_time DESC)`)
	return nil
}

func (i *Index) Upsert(ctx context.Context, m store.TraceMeta) error {
	tools, _ := json.Marshal(m.ToolsUsed)

	var endTime, durationMS any
	if m.EndTime != nil {
		endTime = m.EndTime.UnixMilli()
	}
	if m.DurationMS != nil {
		durationMS = *m.DurationMS
	}

	_, err := i.db.ExecContext(ctx, `INSERT INTO traces (
		trace_id, session_id, status, start_time, end_time, duration_ms,
		first_message, tools_used, tool_calls, sub_agents, errors,
		sandbox_blocks, hooks_triggered, iterations, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(trace_id) DO UPDATE SET
		session_id = excluded.session_id,
		status = excluded.status,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		duration_ms = excluded.duration_ms,
		first_message = excluded.first_message,
		tools_used = excluded.tools_used,
		tool_calls = excluded.tool_calls,
		sub_agents = excluded.sub_agents,
		errors = excluded.errors,
		sandbox_blocks = excluded.sandbox_blocks,
		hooks_triggered = excluded.hooks_triggered,
		iterations = excluded.iterations,
		error_message = excluded.error_message`,
		m.TraceID, m.SessionID, m.Status, m.StartTime.UnixMilli(), endTime, durationMS,
		m.FirstMessage, string(tools), m.ToolCalls, m.SubAgents, m.Errors,
		m.SandboxBlocks, m.HooksTriggered, m.Iterations, m.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("upsert trace: %w", err)
	}
	return nil
}

// filterWhere renders f's constraints as a WHERE clause plus bind args.
// Limit and Offset are the caller's problem.
func filterWhere(f store.Filter) (string, []any) {
	where := []string{"1=1"}
	args := []any{}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.HasErrors != nil {
		if *f.HasErrors {
			where = append(where, "errors > 0")
		} else {
			where = append(where, "errors = 0")
		}
	}
	if f.HasSandboxBlocks != nil {
		if *f.HasSandboxBlocks {
			where = append(where, "sandbox_blocks > 0")
		} else {
			where = append(where, "sandbox_blocks = 0")
		}
	}
	if f.Search != "" {
		where = append(where, "LOWER(first_message) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
	}
	return strings.Join(where, " AND "), args
}

func (i *Index) List(ctx context.Context, f store.Filter) ([]store.TraceMeta, error) {
	f = f.Normalize()

	where, args := filterWhere(f)
	args = append(args, f.Limit, f.Offset)

	query := `SELECT trace_id, session_id, status, start_time, end_time, duration_ms,
		first_message, tools_used, tool_calls, sub_agents, errors,
		sandbox_blocks, hooks_triggered, iterations, error_message
	FROM traces WHERE ` + where + `
	ORDER BY start_time DESC LIMIT ? OFFSET ?`

	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	out := []store.TraceMeta{}
	for rows.Next() {
		m, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (i *Index) Count(ctx context.Context, f store.Filter) (int, error) {
	where, args := filterWhere(f)
	var n int
	err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traces WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count traces: %w", err)
	}
	return n, nil
}

func (i *Index) Get(ctx context.Context, traceID string) (*store.TraceMeta, error) {
	row := i.db.QueryRowContext(ctx, `SELECT trace_id, session_id, status, start_time,
		end_time, duration_ms, first_message, tools_used, tool_calls, sub_agents,
		errors, sandbox_blocks, hooks_triggered, iterations, error_message
	FROM traces WHERE trace_id = ?`, traceID)

	m, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (i *Index) Delete(ctx context.Context, traceID string) error {
	_, err := i.db.ExecContext(ctx, `DELETE FROM traces WHERE trace_id = ?`, traceID)
	return err
}

func (i *Index) Close() error { return i.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (store.TraceMeta, error) {
	var m store.TraceMeta
	var startMS int64
	var endMS, durMS sql.NullInt64
	var tools string

	err := s.Scan(&m.TraceID, &m.SessionID, &m.Status, &startMS, &endMS, &durMS,
		&m.FirstMessage, &tools, &m.ToolCalls, &m.SubAgents, &m.Errors,
		&m.SandboxBlocks, &m.HooksTriggered, &m.Iterations, &m.ErrorMessage)
	if err != nil {
		return m, err
	}

	m.StartTime = time.UnixMilli(startMS).UTC()
	if endMS.Valid {
		t := time.UnixMilli(endMS.Int64).UTC()
		m.EndTime = &t
	}
	if durMS.Valid {
		d := durMS.Int64
		m.DurationMS = &d
	}
	m.ToolsUsed = []string{}
	_ = json.Unmarshal([]byte(tools), &m.ToolsUsed)
	return m, nil
}
