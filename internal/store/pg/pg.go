// Package pg implements store.TraceIndex on Postgres for managed mode.
// Schema lives in migrations/; run `agentgate migrate up` before serving.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/lib/pq"

	"github.com/nextlevelbuilder/agentgate/internal/store"
)

// Index is a Postgres-backed trace index.
type Index struct {
	db *sql.DB
}

var _ store.TraceIndex = (*Index)(nil)

// OpenDB opens a pooled connection via the pgx stdlib driver and pings it.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Open connects and returns the index. The traces table must already exist.
func Open(dsn string) (*Index, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

// NewIndex wraps an existing pool (tests, shared connections).
func NewIndex(db *sql.DB) *Index { return &Index{db: db} }

func (i *Index) Upsert(ctx context.Context, m store.TraceMeta) error {
	tools := m.ToolsUsed
	if tools == nil {
		tools = []string{}
	}

	var endTime *time.Time
	if m.EndTime != nil {
		t := m.EndTime.UTC()
		endTime = &t
	}

	_, err := i.db.ExecContext(ctx, `INSERT INTO traces (
		trace_id, session_id, status, start_time, end_time, duration_ms,
		first_message, tools_used, tool_calls, sub_agents, errors,
		sandbox_blocks, hooks_triggered, iterations, error_message
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (trace_id) DO UPDATE SET
		session_id = EXCLUDED.session_id,
		status = EXCLUDED.status,
		start_time = EXCLUDED.start_time,
		end_time = EXCLUDED.end_time,
		duration_ms = EXCLUDED.duration_ms,
		first_message = EXCLUDED.first_message,
		tools_used = EXCLUDED.tools_used,
		tool_calls = EXCLUDED.tool_calls,
		sub_agents = EXCLUDED.sub_agents,
		errors = EXCLUDED.errors,
		sandbox_blocks = EXCLUDED.sandbox_blocks,
		hooks_triggered = EXCLUDED.hooks_triggered,
		iterations = EXCLUDED.iterations,
		error_message = EXCLUDED.error_message`,
		m.TraceID, m.SessionID, m.Status, m.StartTime.UTC(), endTime, m.DurationMS,
		m.FirstMessage, pq.Array(tools), m.ToolCalls, m.SubAgents, m.Errors,
		m.SandboxBlocks, m.HooksTriggered, m.Iterations, m.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("upsert trace: %w", err)
	}
	return nil
}

// filterWhere renders f's constraints as a WHERE clause, appending bind
// values to args. Limit and Offset are the caller's problem.
func filterWhere(f store.Filter, args *[]any) string {
	arg := func(v any) string {
		*args = append(*args, v)
		return "$" + strconv.Itoa(len(*args))
	}

	where := []string{"TRUE"}
	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
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
		where = append(where, "first_message ILIKE "+arg("%"+f.Search+"%"))
	}
	return strings.Join(where, " AND ")
}

func (i *Index) List(ctx context.Context, f store.Filter) ([]store.TraceMeta, error) {
	f = f.Normalize()

	args := []any{}
	where := filterWhere(f, &args)

	args = append(args, f.Limit)
	limit := "$" + strconv.Itoa(len(args))
	args = append(args, f.Offset)
	offset := "$" + strconv.Itoa(len(args))

	query := `SELECT trace_id, session_id, status, start_time, end_time, duration_ms,
		first_message, tools_used, tool_calls, sub_agents, errors,
		sandbox_blocks, hooks_triggered, iterations, error_message
	FROM traces WHERE ` + where + `
	ORDER BY start_time DESC LIMIT ` + limit + ` OFFSET ` + offset

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
	args := []any{}
	where := filterWhere(f, &args)

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
	FROM traces WHERE trace_id = $1`, traceID)

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
	_, err := i.db.ExecContext(ctx, `DELETE FROM traces WHERE trace_id = $1`, traceID)
	return err
}

func (i *Index) Close() error { return i.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (store.TraceMeta, error) {
	var m store.TraceMeta
	var endTime sql.NullTime
	var durMS sql.NullInt64
	var tools []string

	err := s.Scan(&m.TraceID, &m.SessionID, &m.Status, &m.StartTime, &endTime, &durMS,
		&m.FirstMessage, pq.Array(&tools), &m.ToolCalls, &m.SubAgents, &m.Errors,
		&m.SandboxBlocks, &m.HooksTriggered, &m.Iterations, &m.ErrorMessage)
	if err != nil {
		return m, err
	}

	if endTime.Valid {
		t := endTime.Time
		m.EndTime = &t
	}
	if durMS.Valid {
		d := durMS.Int64
		m.DurationMS = &d
	}
	m.ToolsUsed = tools
	if m.ToolsUsed == nil {
		m.ToolsUsed = []string{}
	}
	return m, nil
}
