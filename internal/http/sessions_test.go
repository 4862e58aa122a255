package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/agentgate/internal/sessions"
)

func sessionsDo(t *testing.T, h *SessionsHandler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestSessionsEndpoints(t *testing.T) {
	st := sessions.NewStore()
	st.Append("s1",
		sessions.Message{Role: "user", Content: "hello"},
		sessions.Message{Role: "assistant", Content: "hi!"},
	)
	h := NewSessionsHandler(st)

	rec := sessionsDo(t, h, http.MethodGet, "/api/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Sessions []sessions.Summary `json:"sessions"`
		Count    int                `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 || list.Sessions[0].MessageCount != 2 {
		t.Errorf("list = %+v", list)
	}

	rec = sessionsDo(t, h, http.MethodGet, "/api/sessions/s1")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var info struct {
		SessionID    string `json:"session_id"`
		MessageCount int    `json:"message_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.SessionID != "s1" || info.MessageCount != 2 {
		t.Errorf("info = %+v", info)
	}

	rec = sessionsDo(t, h, http.MethodDelete, "/api/sessions/s1")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if st.Len() != 0 {
		t.Errorf("store len = %d after delete", st.Len())
	}

	// Gone now.
	if rec = sessionsDo(t, h, http.MethodGet, "/api/sessions/s1"); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", rec.Code)
	}
	if rec = sessionsDo(t, h, http.MethodDelete, "/api/sessions/s1"); rec.Code != http.StatusNotFound {
		t.Errorf("double delete = %d", rec.Code)
	}
}
