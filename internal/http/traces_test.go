package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/store"
	"github.com/nextlevelbuilder/agentgate/internal/trace"
)

// fakeTraceIndex serves canned rows and records the filters it saw.
type fakeTraceIndex struct {
	rows    []store.TraceMeta
	total   int
	listErr error
	filters []store.Filter
}

func (f *fakeTraceIndex) Upsert(ctx context.Context, m store.TraceMeta) error { return nil }
func (f *fakeTraceIndex) List(ctx context.Context, fl store.Filter) ([]store.TraceMeta, error) {
	f.filters = append(f.filters, fl)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.rows, nil
}
func (f *fakeTraceIndex) Count(ctx context.Context, fl store.Filter) (int, error) {
	return f.total, nil
}
func (f *fakeTraceIndex) Get(ctx context.Context, id string) (*store.TraceMeta, error) {
	return nil, store.ErrNotFound
}
func (f *fakeTraceIndex) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeTraceIndex) Close() error                                { return nil }

func tracesGet(t *testing.T, h *TracesHandler, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// writeTrace materializes a real trace document in dir.
func writeTrace(t *testing.T, dir, id, message string, fail bool) {
	t.Helper()
	l := trace.NewLogger(dir, id, "sess-"+id)
	l.Log("request", map[string]any{"message": message})
	if fail {
		l.LogError(errors.New("boom"))
	} else {
		l.Complete()
	}
}

func TestTracesListFromIndex(t *testing.T) {
	long := strings.Repeat("investigate the flaky test in ", 4) // > 50 chars
	idx := &fakeTraceIndex{
		rows: []store.TraceMeta{
			{TraceID: "trace_a", Status: "completed", StartTime: time.Now().UTC(), FirstMessage: long, ToolCalls: 3},
			{TraceID: "trace_b", Status: "error", StartTime: time.Now().UTC(), Errors: 1},
		},
		total: 7,
	}
	h := NewTracesHandler(t.TempDir(), idx)

	rec := tracesGet(t, h, "/api/traces?status=completed&has_errors=false&limit=5&offset=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Total  int            `json:"total"`
		Limit  int            `json:"limit"`
		Offset int            `json:"offset"`
		Traces []traceSummary `json:"traces"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 7 || resp.Limit != 5 || resp.Offset != 2 {
		t.Errorf("paging = %+v", resp)
	}
	if len(resp.Traces) != 2 {
		t.Fatalf("rows = %d", len(resp.Traces))
	}
	if !strings.HasSuffix(resp.Traces[0].Summary, "...") {
		t.Errorf("summary not truncated: %q", resp.Traces[0].Summary)
	}
	if resp.Traces[0].Stats.ToolCalls != 3 {
		t.Errorf("stats = %+v", resp.Traces[0].Stats)
	}

	// The handler passed the parsed filter through.
	if len(idx.filters) != 1 {
		t.Fatalf("index queried %d times", len(idx.filters))
	}
	f := idx.filters[0]
	if f.Status != "completed" || f.Limit != 5 || f.Offset != 2 {
		t.Errorf("filter = %+v", f)
	}
	if f.HasErrors == nil || *f.HasErrors {
		t.Errorf("has_errors = %v", f.HasErrors)
	}
}

func TestTracesListBadQuery(t *testing.T) {
	h := NewTracesHandler(t.TempDir(), nil)
	rec := tracesGet(t, h, "/api/traces?has_errors=maybe")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTracesListScansDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTrace(t, dir, "trace_20260301_100000_aaaa0001", "write a haiku about Go", false)
	writeTrace(t, dir, "trace_20260301_100001_aaaa0002", "crash the parser", true)
	writeTrace(t, dir, "trace_20260301_100002_aaaa0003", "summarize the haiku", false)

	h := NewTracesHandler(dir, nil) // no index: scan path

	rec := tracesGet(t, h, "/api/traces")
	var resp struct {
		Total  int            `json:"total"`
		Traces []traceSummary `json:"traces"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 || len(resp.Traces) != 3 {
		t.Fatalf("total = %d, rows = %d", resp.Total, len(resp.Traces))
	}

	rec = tracesGet(t, h, "/api/traces?status=error")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Traces[0].Status != "error" {
		t.Errorf("error filter: %+v", resp)
	}

	rec = tracesGet(t, h, "/api/traces?search=HAIKU")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 {
		t.Errorf("search total = %d, want 2", resp.Total)
	}

	rec = tracesGet(t, h, "/api/traces?limit=1&offset=1")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 || len(resp.Traces) != 1 {
		t.Errorf("paged: total = %d, rows = %d", resp.Total, len(resp.Traces))
	}
}

func TestTracesListFallsBackOnIndexError(t *testing.T) {
	dir := t.TempDir()
	writeTrace(t, dir, "trace_20260301_110000_bbbb0001", "hello", false)

	idx := &fakeTraceIndex{listErr: errors.New("db gone")}
	h := NewTracesHandler(dir, idx)

	rec := tracesGet(t, h, "/api/traces")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 {
		t.Errorf("fallback total = %d, want 1", resp.Total)
	}
}

func TestTraceGet(t *testing.T) {
	dir := t.TempDir()
	writeTrace(t, dir, "trace_20260301_120000_cccc0001", "inspect me", false)

	h := NewTracesHandler(dir, nil)

	rec := tracesGet(t, h, "/api/traces/trace_20260301_120000_cccc0001")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var doc trace.File
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Metadata.TraceID != "trace_20260301_120000_cccc0001" {
		t.Errorf("trace_id = %s", doc.Metadata.TraceID)
	}
	if doc.FirstMessage() != "inspect me" {
		t.Errorf("first message = %q", doc.FirstMessage())
	}

	rec = tracesGet(t, h, "/api/traces/trace_unknown")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing trace status = %d, want 404", rec.Code)
	}
}

func TestTraceDownload(t *testing.T) {
	dir := t.TempDir()
	writeTrace(t, dir, "trace_20260301_130000_dddd0001", "download me", false)

	h := NewTracesHandler(dir, nil)

	rec := tracesGet(t, h, "/api/traces/trace_20260301_130000_dddd0001/download")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	cd := rec.Header().Get("Content-Disposition")
	if !strings.Contains(cd, "attachment") || !strings.Contains(cd, "trace_20260301_130000_dddd0001.json") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	rec = tracesGet(t, h, "/api/traces/trace_unknown/download")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing download status = %d", rec.Code)
	}
}

func TestTraceTimeline(t *testing.T) {
	dir := t.TempDir()
	id := "trace_20260301_140000_eeee0001"
	l := trace.NewLogger(dir, id, "sess-1")
	l.Log("request", map[string]any{"message": "run the suite"})
	l.Log("tool_start", map[string]any{
		"tool_id": "tu_1", "name": "Bash", "iteration": 1, "parallel_group": "g1",
	})
	l.Log("tool_result", map[string]any{
		"tool_id": "tu_1", "duration_ms": 42, "status": "success", "is_error": false,
	})
	l.Complete()

	h := NewTracesHandler(dir, nil)
	rec := tracesGet(t, h, "/api/traces/"+id+"/timeline")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var tl trace.Timeline
	if err := json.Unmarshal(rec.Body.Bytes(), &tl); err != nil {
		t.Fatal(err)
	}
	if tl.TraceID != id {
		t.Errorf("trace_id = %s", tl.TraceID)
	}
	if len(tl.Items) != 1 {
		t.Fatalf("timeline items = %d, want 1", len(tl.Items))
	}
	item := tl.Items[0]
	if item["type"] != "tool" || item["name"] != "Bash" {
		t.Errorf("item = %v", item)
	}
	if len(tl.Iterations) != 1 {
		t.Errorf("iterations = %v", tl.Iterations)
	}

	rec = tracesGet(t, h, "/api/traces/trace_unknown/timeline")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing timeline status = %d", rec.Code)
	}
}
