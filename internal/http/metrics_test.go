package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/agentgate/internal/metrics"
)

func TestMetricsSnapshotAndReset(t *testing.T) {
	coll := metrics.NewCollector()
	start := coll.RecordRequestStart()
	coll.RecordTokens(100, 40)
	coll.RecordToolCall("Bash")
	coll.RecordRequestComplete(start, true)

	mux := http.NewServeMux()
	NewMetricsHandler(coll).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var snap metrics.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Requests.Total != 1 || snap.Requests.Success != 1 {
		t.Errorf("requests = %+v", snap.Requests)
	}
	if snap.Tokens.TotalInput != 100 || snap.Tokens.TotalOutput != 40 {
		t.Errorf("tokens = %+v", snap.Tokens)
	}
	if snap.ToolCalls["Bash"] != 1 {
		t.Errorf("tool calls = %v", snap.ToolCalls)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/metrics/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "reset" {
		t.Errorf("reset body = %v", resp)
	}

	if got := coll.Snapshot(); got.Requests.Total != 0 || got.Tokens.TotalInput != 0 {
		t.Errorf("collector not reset: %+v", got)
	}
}
