package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/store"
	"github.com/nextlevelbuilder/agentgate/internal/trace"
)

// summaryMaxChars bounds the first-message excerpt in list rows.
const summaryMaxChars = 50

// TracesHandler serves recorded trace documents. Listing prefers the index;
// when it is absent or failing the handler scans the trace directory, which
// stays authoritative either way.
type TracesHandler struct {
	dir   string
	index store.TraceIndex // may be nil
}

func NewTracesHandler(dir string, index store.TraceIndex) *TracesHandler {
	return &TracesHandler{dir: dir, index: index}
}

// RegisterRoutes registers the trace inspection routes on the given mux.
func (h *TracesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/traces", h.handleList)
	mux.HandleFunc("GET /api/traces/{id}", h.handleGet)
	mux.HandleFunc("GET /api/traces/{id}/download", h.handleDownload)
	mux.HandleFunc("GET /api/traces/{id}/timeline", h.handleTimeline)
}

// traceSummary is one list row, shaped for the UI's trace browser.
type traceSummary struct {
	TraceID    string     `json:"trace_id"`
	SessionID  string     `json:"session_id,omitempty"`
	StartTime  time.Time  `json:"start_time"`
	Status     string     `json:"status"`
	Summary    string     `json:"summary"`
	DurationMS *int64     `json:"duration_ms"`
	ToolsUsed  []string   `json:"tools_used"`
	Stats      traceStats `json:"stats"`
}

type traceStats struct {
	ToolCalls      int `json:"tool_calls"`
	Iterations     int `json:"iterations"`
	SubAgents      int `json:"sub_agents"`
	Errors         int `json:"errors"`
	SandboxBlocks  int `json:"sandbox_blocks"`
	HooksTriggered int `json:"hooks_triggered"`
}

func toSummary(m store.TraceMeta) traceSummary {
	summary := m.FirstMessage
	if r := []rune(summary); len(r) > summaryMaxChars {
		summary = string(r[:summaryMaxChars]) + "..."
	}
	tools := m.ToolsUsed
	if tools == nil {
		tools = []string{}
	}
	return traceSummary{
		TraceID:    m.TraceID,
		SessionID:  m.SessionID,
		StartTime:  m.StartTime,
		Status:     m.Status,
		Summary:    summary,
		DurationMS: m.DurationMS,
		ToolsUsed:  tools,
		Stats: traceStats{
			ToolCalls:      m.ToolCalls,
			Iterations:     m.Iterations,
			SubAgents:      m.SubAgents,
			Errors:         m.Errors,
			SandboxBlocks:  m.SandboxBlocks,
			HooksTriggered: m.HooksTriggered,
		},
	}
}

func (h *TracesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	f = f.Normalize()

	metas, total, err := h.list(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	items := make([]traceSummary, 0, len(metas))
	for _, m := range metas {
		items = append(items, toSummary(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
		"traces": items,
	})
}

func (h *TracesHandler) list(ctx context.Context, f store.Filter) ([]store.TraceMeta, int, error) {
	if h.index != nil {
		metas, err := h.index.List(ctx, f)
		if err == nil {
			total, cerr := h.index.Count(ctx, f)
			if cerr != nil {
				total = f.Offset + len(metas)
			}
			return metas, total, nil
		}
		slog.Warn("trace index list failed, scanning directory", "error", err)
	}
	return h.scan(f)
}

// scan rebuilds the listing straight from trace files. O(files), but correct
// even when the index is cold.
func (h *TracesHandler) scan(f store.Filter) ([]store.TraceMeta, int, error) {
	ids, err := trace.IDs(h.dir)
	if err != nil {
		return nil, 0, err
	}

	matched := []store.TraceMeta{}
	for _, id := range ids {
		doc, err := trace.Load(h.dir, id)
		if err != nil {
			continue // partial write or foreign file
		}
		m := store.MetaFromTrace(doc)
		if matchesFilter(m, f) {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartTime.After(matched[j].StartTime) })

	total := len(matched)
	if f.Offset >= len(matched) {
		return []store.TraceMeta{}, total, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func matchesFilter(m store.TraceMeta, f store.Filter) bool {
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.HasErrors != nil && (m.Errors > 0) != *f.HasErrors {
		return false
	}
	if f.HasSandboxBlocks != nil && (m.SandboxBlocks > 0) != *f.HasSandboxBlocks {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(m.FirstMessage), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

func (h *TracesHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := trace.Load(h.dir, r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "trace not found"})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *TracesHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !trace.ValidID(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "trace not found"})
		return
	}
	path := filepath.Join(h.dir, id+".json")
	if _, err := os.Stat(path); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "trace not found"})
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".json"))
	w.Header().Set("Content-Type", "application/json")
	http.ServeFile(w, r, path)
}

func (h *TracesHandler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	doc, err := trace.Load(h.dir, r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "trace not found"})
		return
	}
	writeJSON(w, http.StatusOK, trace.BuildTimeline(doc))
}

func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{
		Status: q.Get("status"),
		Search: q.Get("search"),
	}

	var err error
	if f.HasErrors, err = parseOptionalBool(q.Get("has_errors")); err != nil {
		return f, fmt.Errorf("has_errors: %w", err)
	}
	if f.HasSandboxBlocks, err = parseOptionalBool(q.Get("has_sandbox_blocks")); err != nil {
		return f, fmt.Errorf("has_sandbox_blocks: %w", err)
	}
	if f.Limit, err = parseOptionalInt(q.Get("limit")); err != nil {
		return f, fmt.Errorf("limit: %w", err)
	}
	if f.Offset, err = parseOptionalInt(q.Get("offset")); err != nil {
		return f, fmt.Errorf("offset: %w", err)
	}
	return f, nil
}

func parseOptionalBool(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseOptionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
