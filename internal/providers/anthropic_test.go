package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

// sseBody joins Anthropic stream events into a response body.
func sseBody(events ...[2]string) string {
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", ev[0], ev[1])
	}
	return b.String()
}

func streamServer(t *testing.T, body string, capture *[]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %q, want /messages", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != "2023-06-01" {
			t.Errorf("anthropic-version = %q", got)
		}
		if capture != nil {
			buf, _ := io.ReadAll(r.Body)
			*capture = buf
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
}

func TestChatStreamAssemblesBlocks(t *testing.T) {
	body := sseBody(
		[2]string{"message_start", `{"message":{"usage":{"input_tokens":25,"cache_creation_input_tokens":2,"cache_read_input_tokens":3}}}`},
		[2]string{"content_block_start", `{"index":0,"content_block":{"type":"thinking"}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"thinking_delta","thinking":"Let me "}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"thinking_delta","thinking":"check."}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"signature_delta","signature":"sig123"}}`},
		[2]string{"content_block_stop", `{"index":0}`},
		[2]string{"content_block_start", `{"index":1,"content_block":{"type":"text"}}`},
		[2]string{"content_block_delta", `{"index":1,"delta":{"type":"text_delta","text":"I'll write "}}`},
		[2]string{"content_block_delta", `{"index":1,"delta":{"type":"text_delta","text":"the file."}}`},
		[2]string{"content_block_stop", `{"index":1}`},
		[2]string{"content_block_start", `{"index":2,"content_block":{"type":"tool_use","id":"toolu_01","name":"Write"}}`},
		[2]string{"content_block_delta", `{"index":2,"delta":{"type":"input_json_delta","partial_json":"{\"path\":\"no"}}`},
		[2]string{"content_block_delta", `{"index":2,"delta":{"type":"input_json_delta","partial_json":"tes.txt\"}"}}`},
		[2]string{"content_block_stop", `{"index":2}`},
		[2]string{"message_delta", `{"delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":50}}`},
		[2]string{"message_stop", `{}`},
	)
	srv := streamServer(t, body, nil)
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL))

	var textDeltas, thinkingDeltas []string
	var completed []string
	var done bool
	resp, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{UserText("write notes.txt")},
	}, func(c StreamChunk) {
		if c.Text != "" {
			textDeltas = append(textDeltas, c.Text)
		}
		if c.Thinking != "" {
			thinkingDeltas = append(thinkingDeltas, c.Thinking)
		}
		if c.Block != nil {
			completed = append(completed, c.Block.Type)
		}
		if c.Done {
			done = true
		}
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	if len(resp.Blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(resp.Blocks))
	}
	if resp.Blocks[0].Type != BlockThinking || resp.Blocks[0].Thinking != "Let me check." {
		t.Errorf("thinking block = %+v", resp.Blocks[0])
	}
	if resp.Blocks[0].Signature != "sig123" {
		t.Errorf("signature = %q, want sig123", resp.Blocks[0].Signature)
	}
	if resp.Blocks[1].Type != BlockText || resp.Blocks[1].Text != "I'll write the file." {
		t.Errorf("text block = %+v", resp.Blocks[1])
	}
	tu := resp.Blocks[2]
	if tu.Type != BlockToolUse || tu.ID != "toolu_01" || tu.Name != "Write" {
		t.Errorf("tool_use block = %+v", tu)
	}
	if tu.Input["path"] != "notes.txt" {
		t.Errorf("tool input = %v, want path=notes.txt", tu.Input)
	}
	if resp.StopReason != StopToolUse {
		t.Errorf("stop reason = %q, want tool_use", resp.StopReason)
	}
	wantUsage := Usage{InputTokens: 25, OutputTokens: 50, CacheCreationTokens: 2, CacheReadTokens: 3}
	if resp.Usage != wantUsage {
		t.Errorf("usage = %+v, want %+v", resp.Usage, wantUsage)
	}

	if strings.Join(textDeltas, "|") != "I'll write |the file." {
		t.Errorf("text deltas = %v", textDeltas)
	}
	if strings.Join(thinkingDeltas, "|") != "Let me |check." {
		t.Errorf("thinking deltas = %v", thinkingDeltas)
	}
	if strings.Join(completed, ",") != "thinking,text,tool_use" {
		t.Errorf("completed blocks = %v", completed)
	}
	if !done {
		t.Error("missing Done chunk")
	}

	if got := resp.Text(); got != "I'll write the file." {
		t.Errorf("Text() = %q", got)
	}
	if uses := resp.ToolUses(); len(uses) != 1 || uses[0].ID != "toolu_01" {
		t.Errorf("ToolUses() = %+v", uses)
	}
}

func TestChatStreamSurfacesStreamError(t *testing.T) {
	body := sseBody(
		[2]string{"message_start", `{"message":{"usage":{"input_tokens":10}}}`},
		[2]string{"error", `{"error":{"type":"overloaded_error","message":"try later"}}`},
	)
	srv := streamServer(t, body, nil)
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL))
	_, err := p.ChatStream(context.Background(), ChatRequest{Messages: []Message{UserText("hi")}}, nil)
	if err == nil {
		t.Fatal("expected stream error")
	}
	if !strings.Contains(err.Error(), "overloaded_error") || !strings.Contains(err.Error(), "try later") {
		t.Errorf("err = %v", err)
	}
}

func TestChatStreamRequestShape(t *testing.T) {
	var captured []byte
	body := sseBody([2]string{"message_stop", `{}`})
	srv := streamServer(t, body, &captured)
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL), WithAnthropicModel("claude-test-1"))
	_, err := p.ChatStream(context.Background(), ChatRequest{
		System: "be brief",
		Messages: []Message{
			UserText("list files"),
			{Role: RoleAssistant, Content: []ContentBlock{
				{Type: BlockText, Text: "Listing."},
				{Type: BlockToolUse, ID: "toolu_02", Name: "Bash", Input: map[string]any{"command": "ls"}},
			}},
			{Role: RoleUser, Content: []ContentBlock{
				{Type: BlockToolResult, ToolUseID: "toolu_02", Content: "ls: not found", IsError: true},
			}},
		},
		Tools: []ToolSchema{{
			Name:        "Bash",
			Description: "Run a shell command",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{"command": map[string]any{"type": "string"}}},
		}},
		MaxTokens: 2048,
	}, nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var req map[string]any
	if err := json.Unmarshal(captured, &req); err != nil {
		t.Fatalf("unmarshal captured request: %v", err)
	}
	if req["model"] != "claude-test-1" {
		t.Errorf("model = %v", req["model"])
	}
	if req["stream"] != true {
		t.Error("stream flag not set")
	}
	if req["max_tokens"] != float64(2048) {
		t.Errorf("max_tokens = %v", req["max_tokens"])
	}

	system, ok := req["system"].([]any)
	if !ok || len(system) != 1 {
		t.Fatalf("system = %v", req["system"])
	}
	sysBlock := system[0].(map[string]any)
	if sysBlock["text"] != "be brief" {
		t.Errorf("system text = %v", sysBlock["text"])
	}
	if _, ok := sysBlock["cache_control"]; !ok {
		t.Error("system block missing cache_control")
	}

	msgs := req["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	assistant := msgs[1].(map[string]any)
	if assistant["role"] != "assistant" {
		t.Errorf("role[1] = %v", assistant["role"])
	}
	blocks := assistant["content"].([]any)
	if len(blocks) != 2 {
		t.Fatalf("assistant blocks = %d, want 2", len(blocks))
	}
	toolUse := blocks[1].(map[string]any)
	if toolUse["type"] != "tool_use" || toolUse["id"] != "toolu_02" {
		t.Errorf("tool_use block = %v", toolUse)
	}
	toolResult := msgs[2].(map[string]any)["content"].([]any)[0].(map[string]any)
	if toolResult["tool_use_id"] != "toolu_02" || toolResult["is_error"] != true {
		t.Errorf("tool_result block = %v", toolResult)
	}

	tools := req["tools"].([]any)
	tool := tools[0].(map[string]any)
	if tool["name"] != "Bash" {
		t.Errorf("tool name = %v", tool["name"])
	}
	if _, ok := tool["input_schema"]; !ok {
		t.Error("tool missing input_schema")
	}
}

func TestThinkingRequestShape(t *testing.T) {
	var captured []byte
	body := sseBody([2]string{"message_stop", `{}`})
	srv := streamServer(t, body, &captured)
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL))
	_, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{UserText("think hard")},
		Thinking: &ThinkingOption{BudgetTokens: 10000},
	}, nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var req map[string]any
	if err := json.Unmarshal(captured, &req); err != nil {
		t.Fatalf("unmarshal captured request: %v", err)
	}
	thinking, ok := req["thinking"].(map[string]any)
	if !ok {
		t.Fatalf("thinking = %v", req["thinking"])
	}
	if thinking["type"] != "enabled" || thinking["budget_tokens"] != float64(10000) {
		t.Errorf("thinking = %v", thinking)
	}
	// Default 8192 cap is below budget+4096, so it must be raised.
	if req["max_tokens"] != float64(10000+defaultMaxTokens) {
		t.Errorf("max_tokens = %v, want %d", req["max_tokens"], 10000+defaultMaxTokens)
	}
}

func TestChatParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "Done."},
				{"type": "tool_use", "id": "toolu_03", "name": "Read", "input": {"path": "a.txt"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{UserText("read a.txt")}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(resp.Blocks))
	}
	if resp.Blocks[0].Text != "Done." {
		t.Errorf("text = %q", resp.Blocks[0].Text)
	}
	if resp.Blocks[1].Name != "Read" || resp.Blocks[1].Input["path"] != "a.txt" {
		t.Errorf("tool_use = %+v", resp.Blocks[1])
	}
	if resp.StopReason != StopToolUse {
		t.Errorf("stop reason = %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatRetriesOnOverload(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(529)
			_, _ = w.Write([]byte(`{"error":{"type":"overloaded_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL), WithAnthropicRetry(fastRetry()))
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Text() != "ok" {
		t.Errorf("text = %q", resp.Text())
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestChatDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL), WithAnthropicRetry(fastRetry()))
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{UserText("hi")}})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadRequest {
		t.Fatalf("err = %v, want http 400", err)
	}
	if httpErr.ErrorType() != "http_400" {
		t.Errorf("ErrorType = %q", httpErr.ErrorType())
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestBaseURLTrimsTrailingSlash(t *testing.T) {
	p := NewAnthropicProvider("k", WithAnthropicBaseURL("http://example.test/v1/"))
	if p.baseURL != "http://example.test/v1" {
		t.Errorf("baseURL = %q", p.baseURL)
	}
}
