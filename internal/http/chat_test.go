package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/metrics"
	"github.com/nextlevelbuilder/agentgate/internal/runtime"
	"github.com/nextlevelbuilder/agentgate/internal/sandbox"
	"github.com/nextlevelbuilder/agentgate/internal/sessions"
	"github.com/nextlevelbuilder/agentgate/internal/turn"
)

// stubTransport replays a scripted turn for every Open.
type stubTransport struct {
	msgs []runtime.Message
}

type stubSource struct {
	ch chan runtime.Message
}

func (s *stubSource) Messages() <-chan runtime.Message { return s.ch }
func (s *stubSource) Close() error                     { return nil }

func (t *stubTransport) Open(ctx context.Context, prompt string, opts runtime.Options) (runtime.Source, error) {
	ch := make(chan runtime.Message, len(t.msgs))
	for _, m := range t.msgs {
		ch <- m
	}
	close(ch)
	return &stubSource{ch: ch}, nil
}

func scriptedTurn(text string) []runtime.Message {
	return []runtime.Message{
		{Type: runtime.TypeSystem, Subtype: runtime.SubtypeInit},
		{Type: runtime.TypeAssistant, Content: []runtime.Block{{Type: "text", Text: text}}},
		{
			Type:     runtime.TypeResult,
			Subtype:  runtime.SubtypeSuccess,
			Result:   text,
			Usage:    &runtime.Usage{InputTokens: 50, OutputTokens: 12},
			NumTurns: 1,
		},
	}
}

func newChatHandler(t *testing.T) *ChatHandler {
	t.Helper()
	dir := t.TempDir()
	policy, err := sandbox.New(config.SandboxConfig{
		Root:            dir,
		MaxOpsPerMin:    1000,
		MaxWritesPerMin: 1000,
		MaxShellPerMin:  1000,
	}, []string{dir})
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	c := turn.NewCoordinator(turn.Deps{
		Transport: &stubTransport{msgs: scriptedTurn("hello from the agent")},
		Policy:    policy,
		Metrics:   metrics.NewCollector(),
		Sessions:  sessions.NewStore(),
		ToolNames: []string{"Read", "Bash"},
		Runtime:   config.RuntimeConfig{Model: "claude-sonnet-4-5", MaxTurns: 10},
		TraceDir:  dir,
	})
	return NewChatHandler(c)
}

func postChat(t *testing.T, h *ChatHandler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestChatStreamsTurn(t *testing.T) {
	h := newChatHandler(t)
	rec := postChat(t, h, "/api/chat", `{"message":"hi"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Error("X-Trace-Id header missing")
	}
	if rec.Header().Get("X-Session-Id") == "" {
		t.Error("X-Session-Id header missing")
	}

	body := rec.Body.String()
	for _, want := range []string{"event: session_config", "event: text_delta", "event: message_complete"} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q:\n%s", want, body)
		}
	}
	if !strings.Contains(body, "hello from the agent") {
		t.Errorf("assistant text not streamed:\n%s", body)
	}
}

func TestChatThinkingRoute(t *testing.T) {
	h := newChatHandler(t)
	rec := postChat(t, h, "/api/chat/thinking", `{"message":"ponder this"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "event: message_complete") {
		t.Errorf("thinking stream did not complete:\n%s", rec.Body.String())
	}
}

func TestChatKeepsSessionID(t *testing.T) {
	h := newChatHandler(t)
	rec := postChat(t, h, "/api/chat", `{"message":"hi","session_id":"sess-42"}`)

	if got := rec.Header().Get("X-Session-Id"); got != "sess-42" {
		t.Errorf("X-Session-Id = %q, want sess-42", got)
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty message", `{"message":"   "}`},
		{"missing message", `{}`},
		{"invalid json", `{message`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newChatHandler(t)
			rec := postChat(t, h, "/api/chat", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var resp map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("body not JSON: %v", err)
			}
			if resp["error"] == "" {
				t.Error("error field missing")
			}
		})
	}
}

func TestChatHistoryOverridesStore(t *testing.T) {
	dir := t.TempDir()
	policy, err := sandbox.New(config.SandboxConfig{
		Root:            dir,
		MaxOpsPerMin:    1000,
		MaxWritesPerMin: 1000,
		MaxShellPerMin:  1000,
	}, []string{dir})
	if err != nil {
		t.Fatal(err)
	}
	tp := &recordingTransport{stubTransport: stubTransport{msgs: scriptedTurn("ok")}}
	c := turn.NewCoordinator(turn.Deps{
		Transport: tp,
		Policy:    policy,
		Metrics:   metrics.NewCollector(),
		Sessions:  sessions.NewStore(),
		Runtime:   config.RuntimeConfig{Model: "claude-sonnet-4-5"},
		TraceDir:  dir,
	})

	body := `{"message":"and now?","history":[{"role":"user","content":"remember: blue"},{"role":"assistant","content":"noted"}]}`
	rec := postChat(t, NewChatHandler(c), "/api/chat", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(tp.prompts) != 1 {
		t.Fatalf("opens = %d, want 1", len(tp.prompts))
	}
	if !strings.Contains(tp.prompts[0], "remember: blue") {
		t.Errorf("history not folded into prompt:\n%s", tp.prompts[0])
	}
}

type recordingTransport struct {
	stubTransport
	prompts []string
}

func (t *recordingTransport) Open(ctx context.Context, prompt string, opts runtime.Options) (runtime.Source, error) {
	t.prompts = append(t.prompts, prompt)
	return t.stubTransport.Open(ctx, prompt, opts)
}
