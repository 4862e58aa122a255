package lite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/store"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "traces.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func meta(id, status string, start time.Time) store.TraceMeta {
	return store.TraceMeta{
		TraceID:   id,
		Status:    status,
		StartTime: start,
		ToolsUsed: []string{},
	}
}

func TestUpsertAndGet(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Second)
	dur := int64(3000)

	m := meta("trace_20260301_100000_aaaa1111", "completed", start)
	m.SessionID = "sess-1"
	m.FirstMessage = "find the bug in parser.go"
	m.ToolsUsed = []string{"Read", "Grep"}
	m.ToolCalls = 4
	m.EndTime = &end
	m.DurationMS = &dur

	if err := idx.Upsert(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := idx.Get(ctx, m.TraceID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "sess-1" || got.ToolCalls != 4 {
		t.Errorf("got %+v", got)
	}
	if !got.StartTime.Equal(start) {
		t.Errorf("start = %v, want %v", got.StartTime, start)
	}
	if got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Errorf("end = %v", got.EndTime)
	}
	if got.DurationMS == nil || *got.DurationMS != 3000 {
		t.Errorf("duration = %v", got.DurationMS)
	}
	if len(got.ToolsUsed) != 2 || got.ToolsUsed[1] != "Grep" {
		t.Errorf("tools = %v", got.ToolsUsed)
	}
}

func TestUpsertReplacesRow(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	m := meta("trace_x", "running", time.Now().UTC())
	if err := idx.Upsert(ctx, m); err != nil {
		t.Fatal(err)
	}

	m.Status = "completed"
	m.ToolCalls = 7
	if err := idx.Upsert(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := idx.Get(ctx, "trace_x")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "completed" || got.ToolCalls != 7 {
		t.Errorf("row not replaced: %+v", got)
	}
}

func TestGetNotFound(t *testing.T) {
	idx := openTestIndex(t)
	_, err := idx.Get(context.Background(), "trace_missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListFilters(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := []store.TraceMeta{
		func() store.TraceMeta {
			m := meta("t1", "completed", base.Add(1*time.Hour))
			m.FirstMessage = "write a haiku"
			return m
		}(),
		func() store.TraceMeta {
			m := meta("t2", "error", base.Add(2*time.Hour))
			m.Errors = 1
			m.FirstMessage = "crash the parser"
			return m
		}(),
		func() store.TraceMeta {
			m := meta("t3", "completed", base.Add(3*time.Hour))
			m.SandboxBlocks = 2
			m.FirstMessage = "read /etc/passwd please"
			return m
		}(),
	}
	for _, m := range rows {
		if err := idx.Upsert(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	all, err := idx.List(ctx, store.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	// Newest first.
	if all[0].TraceID != "t3" || all[2].TraceID != "t1" {
		t.Errorf("order = %s..%s", all[0].TraceID, all[2].TraceID)
	}

	byStatus, _ := idx.List(ctx, store.Filter{Status: "error"})
	if len(byStatus) != 1 || byStatus[0].TraceID != "t2" {
		t.Errorf("status filter = %+v", byStatus)
	}

	yes := true
	withErrors, _ := idx.List(ctx, store.Filter{HasErrors: &yes})
	if len(withErrors) != 1 || withErrors[0].TraceID != "t2" {
		t.Errorf("has_errors filter = %+v", withErrors)
	}

	withBlocks, _ := idx.List(ctx, store.Filter{HasSandboxBlocks: &yes})
	if len(withBlocks) != 1 || withBlocks[0].TraceID != "t3" {
		t.Errorf("has_sandbox_blocks filter = %+v", withBlocks)
	}

	no := false
	clean, _ := idx.List(ctx, store.Filter{HasErrors: &no})
	if len(clean) != 2 {
		t.Errorf("clean rows = %d, want 2", len(clean))
	}

	search, _ := idx.List(ctx, store.Filter{Search: "HAIKU"})
	if len(search) != 1 || search[0].TraceID != "t1" {
		t.Errorf("search filter = %+v", search)
	}

	paged, _ := idx.List(ctx, store.Filter{Limit: 1, Offset: 1})
	if len(paged) != 1 || paged[0].TraceID != "t2" {
		t.Errorf("paging = %+v", paged)
	}

	// Count ignores paging but honors the other constraints.
	if n, _ := idx.Count(ctx, store.Filter{Limit: 1, Offset: 1}); n != 3 {
		t.Errorf("count all = %d, want 3", n)
	}
	if n, _ := idx.Count(ctx, store.Filter{Status: "error"}); n != 1 {
		t.Errorf("count errors = %d, want 1", n)
	}
	if n, _ := idx.Count(ctx, store.Filter{Search: "haiku"}); n != 1 {
		t.Errorf("count search = %d, want 1", n)
	}
}

func TestDelete(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, meta("t1", "completed", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	if err := idx.Delete(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Get(ctx, "t1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after delete", err)
	}
	// Deleting an unknown row is not an error.
	if err := idx.Delete(ctx, "t1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}
