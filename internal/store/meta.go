package store

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/agentgate/internal/trace"
)

// MetaFromTrace projects a trace document into its index row.
func MetaFromTrace(f *trace.File) TraceMeta {
	m := TraceMeta{
		TraceID:      f.Metadata.TraceID,
		SessionID:    f.Metadata.SessionID,
		Status:       f.Metadata.Status,
		StartTime:    f.Metadata.StartTime,
		EndTime:      f.Metadata.EndTime,
		DurationMS:   f.Metadata.DurationMS,
		FirstMessage: f.FirstMessage(),
		ToolsUsed:    f.ToolsUsed(),
	}
	if m.ToolsUsed == nil {
		m.ToolsUsed = []string{}
	}
	if s := f.Metadata.Stats; s != nil {
		m.ToolCalls = s.ToolCalls
		m.SubAgents = s.SubAgents
		m.Errors = s.Errors
		m.SandboxBlocks = s.SandboxBlocks
		m.HooksTriggered = s.HooksTriggered
		m.Iterations = s.Iterations
	}
	if e := f.Metadata.Error; e != nil {
		m.ErrorMessage = e.Message
	}
	return m
}

// Reconcile indexes trace files that have no row yet, so an index created
// (or wiped) after traces were written catches up at startup. Returns the
// number of rows added.
func Reconcile(ctx context.Context, idx TraceIndex, dir string) (int, error) {
	ids, err := trace.IDs(dir)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return added, ctx.Err()
		}
		if _, err := idx.Get(ctx, id); err == nil {
			continue
		}
		f, err := trace.Load(dir, id)
		if err != nil {
			slog.Warn("reconcile: skipping unreadable trace", "trace_id", id, "error", err)
			continue
		}
		if err := idx.Upsert(ctx, MetaFromTrace(f)); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
