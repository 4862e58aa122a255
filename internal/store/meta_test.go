package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/agentgate/internal/store"
	"github.com/nextlevelbuilder/agentgate/internal/store/lite"
	"github.com/nextlevelbuilder/agentgate/internal/trace"
)

func writeTrace(t *testing.T, dir, id string, complete bool) {
	t.Helper()
	l := trace.NewLogger(dir, id, "sess-1")
	l.Log("request", map[string]any{"message": "hello world"})
	l.Log("tool_start", map[string]any{"name": "Read", "tool_id": "tu_1", "iteration": 1})
	if complete {
		l.Complete()
	}
}

func TestMetaFromTrace(t *testing.T) {
	dir := t.TempDir()
	writeTrace(t, dir, "trace_20260301_100000_aaaa0001", true)

	f, err := trace.Load(dir, "trace_20260301_100000_aaaa0001")
	if err != nil {
		t.Fatal(err)
	}

	m := store.MetaFromTrace(f)
	if m.TraceID != "trace_20260301_100000_aaaa0001" {
		t.Errorf("trace_id = %q", m.TraceID)
	}
	if m.SessionID != "sess-1" {
		t.Errorf("session_id = %q", m.SessionID)
	}
	if m.Status != "completed" {
		t.Errorf("status = %q", m.Status)
	}
	if m.FirstMessage != "hello world" {
		t.Errorf("first_message = %q", m.FirstMessage)
	}
	if m.ToolCalls != 1 {
		t.Errorf("tool_calls = %d", m.ToolCalls)
	}
	if len(m.ToolsUsed) != 1 || m.ToolsUsed[0] != "Read" {
		t.Errorf("tools_used = %v", m.ToolsUsed)
	}
	if m.EndTime == nil || m.DurationMS == nil {
		t.Error("completed trace should carry end time and duration")
	}
}

func TestReconcile(t *testing.T) {
	dir := t.TempDir()
	writeTrace(t, dir, "trace_20260301_100000_aaaa0001", true)
	writeTrace(t, dir, "trace_20260301_110000_aaaa0002", true)

	idx, err := lite.Open(filepath.Join(t.TempDir(), "traces.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	// Pre-index one row; reconcile should only add the other.
	f, err := trace.Load(dir, "trace_20260301_100000_aaaa0001")
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, store.MetaFromTrace(f)); err != nil {
		t.Fatal(err)
	}

	added, err := store.Reconcile(ctx, idx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}

	rows, err := idx.List(ctx, store.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want 2", len(rows))
	}

	// Second pass is a no-op.
	added, err = store.Reconcile(ctx, idx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 {
		t.Errorf("second reconcile added = %d, want 0", added)
	}
}

func TestReconcileMissingDir(t *testing.T) {
	idx, err := lite.Open(filepath.Join(t.TempDir(), "traces.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	added, err := store.Reconcile(context.Background(), idx, filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if added != 0 {
		t.Errorf("added = %d", added)
	}
}
