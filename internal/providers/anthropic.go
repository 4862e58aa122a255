package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultClaudeModel  = "claude-sonnet-4-5-20250929"
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"

	defaultMaxTokens      = 8192
	defaultThinkingBudget = 10000
)

// AnthropicProvider implements Provider against the Anthropic Messages
// API via net/http.
type AnthropicProvider struct {
	apiKey       string
	baseURL      string
	version      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		apiKey:       apiKey,
		baseURL:      anthropicAPIBase,
		version:      anthropicAPIVersion,
		defaultModel: defaultClaudeModel,
		// No client timeout: responses stream for minutes. Cancellation
		// comes from the request context.
		client:      &http.Client{},
		retryConfig: DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type AnthropicOption func(*AnthropicProvider)

func WithAnthropicModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if model != "" {
			p.defaultModel = model
		}
	}
}

func WithAnthropicBaseURL(baseURL string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithAnthropicVersion(version string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if version != "" {
			p.version = version
		}
	}
}

func WithAnthropicRetry(cfg RetryConfig) AnthropicOption {
	return func(p *AnthropicProvider) { p.retryConfig = cfg }
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := p.buildRequestBody(model, req, false)

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		respBody, err := p.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp anthropicResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("anthropic: decode response: %w", err)
		}

		return p.parseResponse(&resp), nil
	})
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := p.buildRequestBody(model, req, true)

	// Retry covers the connection phase only; once bytes flow, a broken
	// stream is fatal for this call.
	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &ChatResponse{StopReason: StopEndTurn}

	// Content blocks accumulate keyed by stream index; order records
	// arrival so the final response preserves wire order.
	blocks := make(map[int]*ContentBlock)
	inputJSON := make(map[int]string)
	var order []int

	scanner := bufio.NewScanner(respBody)
	// A single event can carry a whole tool input; the default 64K line
	// cap is too small.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var currentEvent string
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch currentEvent {
		case "message_start":
			var ev anthropicMessageStartEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				result.Usage.InputTokens = ev.Message.Usage.InputTokens
				result.Usage.CacheCreationTokens = ev.Message.Usage.CacheCreationInputTokens
				result.Usage.CacheReadTokens = ev.Message.Usage.CacheReadInputTokens
			}

		case "content_block_start":
			var ev anthropicContentBlockStartEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			blocks[ev.Index] = &ContentBlock{
				Type: ev.ContentBlock.Type,
				ID:   ev.ContentBlock.ID,
				Name: ev.ContentBlock.Name,
			}
			order = append(order, ev.Index)

		case "content_block_delta":
			var ev anthropicContentBlockDeltaEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			blk := blocks[ev.Index]
			if blk == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				blk.Text += ev.Delta.Text
				if onChunk != nil && ev.Delta.Text != "" {
					onChunk(StreamChunk{Text: ev.Delta.Text})
				}
			case "thinking_delta":
				blk.Thinking += ev.Delta.Thinking
				if onChunk != nil && ev.Delta.Thinking != "" {
					onChunk(StreamChunk{Thinking: ev.Delta.Thinking})
				}
			case "signature_delta":
				blk.Signature += ev.Delta.Signature
			case "input_json_delta":
				inputJSON[ev.Index] += ev.Delta.PartialJSON
			}

		case "content_block_stop":
			var ev anthropicContentBlockStopEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			blk := blocks[ev.Index]
			if blk == nil {
				continue
			}
			if blk.Type == BlockToolUse {
				input := make(map[string]any)
				if raw := inputJSON[ev.Index]; raw != "" {
					_ = json.Unmarshal([]byte(raw), &input)
				}
				blk.Input = input
			}
			if onChunk != nil {
				onChunk(StreamChunk{Block: blk})
			}

		case "message_delta":
			var ev anthropicMessageDeltaEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				if ev.Delta.StopReason != "" {
					result.StopReason = ev.Delta.StopReason
				}
				if ev.Usage.OutputTokens > 0 {
					result.Usage.OutputTokens = ev.Usage.OutputTokens
				}
			}

		case "error":
			var ev anthropicErrorEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				return nil, fmt.Errorf("anthropic: stream error: %s: %s", ev.Error.Type, ev.Error.Message)
			}

		case "message_stop":
			// Terminal event; the body drains to EOF after it.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: read stream: %w", err)
	}

	for _, idx := range order {
		result.Blocks = append(result.Blocks, *blocks[idx])
	}

	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}

	return result, nil
}

func (p *AnthropicProvider) buildRequestBody(model string, req ChatRequest, stream bool) map[string]any {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, msg := range req.Messages {
		var blocks []map[string]any
		for _, b := range msg.Content {
			switch b.Type {
			case BlockText:
				blocks = append(blocks, map[string]any{
					"type": "text",
					"text": b.Text,
				})
			case BlockThinking:
				blocks = append(blocks, map[string]any{
					"type":      "thinking",
					"thinking":  b.Thinking,
					"signature": b.Signature,
				})
			case BlockToolUse:
				input := b.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    b.ID,
					"name":  b.Name,
					"input": input,
				})
			case BlockToolResult:
				blk := map[string]any{
					"type":        "tool_result",
					"tool_use_id": b.ToolUseID,
					"content":     b.Content,
				}
				if b.IsError {
					blk["is_error"] = true
				}
				blocks = append(blocks, blk)
			}
		}
		messages = append(messages, map[string]any{
			"role":    msg.Role,
			"content": blocks,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   messages,
	}

	if stream {
		body["stream"] = true
	}

	if req.System != "" {
		// The system prompt is the stable prefix across a session; mark
		// it cacheable.
		body["system"] = []map[string]any{{
			"type":          "text",
			"text":          req.System,
			"cache_control": map[string]any{"type": "ephemeral"},
		}}
	}

	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.InputSchema,
			})
		}
		body["tools"] = tools
	}

	if req.Thinking != nil {
		budget := req.Thinking.BudgetTokens
		if budget <= 0 {
			budget = defaultThinkingBudget
		}
		body["thinking"] = map[string]any{
			"type":          "enabled",
			"budget_tokens": budget,
		}
		// max_tokens must accommodate the thinking budget plus the
		// visible response.
		if mt, ok := body["max_tokens"].(int); !ok || mt < budget+4096 {
			body["max_tokens"] = budget + defaultMaxTokens
		}
	}

	return body
}

func (p *AnthropicProvider) doRequest(ctx context.Context, body any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.version)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("anthropic: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return resp.Body, nil
}

func (p *AnthropicProvider) parseResponse(resp *anthropicResponse) *ChatResponse {
	result := &ChatResponse{StopReason: resp.StopReason}
	if result.StopReason == "" {
		result.StopReason = StopEndTurn
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Blocks = append(result.Blocks, ContentBlock{
				Type: BlockText,
				Text: block.Text,
			})
		case "thinking":
			result.Blocks = append(result.Blocks, ContentBlock{
				Type:      BlockThinking,
				Thinking:  block.Thinking,
				Signature: block.Signature,
			})
		case "tool_use":
			input := make(map[string]any)
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &input)
			}
			result.Blocks = append(result.Blocks, ContentBlock{
				Type:  BlockToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}

	result.Usage = Usage{
		InputTokens:         resp.Usage.InputTokens,
		OutputTokens:        resp.Usage.OutputTokens,
		CacheCreationTokens: resp.Usage.CacheCreationInputTokens,
		CacheReadTokens:     resp.Usage.CacheReadInputTokens,
	}

	return result
}

// --- Anthropic API types (internal) ---

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// --- Streaming event types ---

type anthropicMessageStartEvent struct {
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
}

type anthropicContentBlockStartEvent struct {
	Index        int                   `json:"index"`
	ContentBlock anthropicContentBlock `json:"content_block"`
}

type anthropicContentBlockDeltaEvent struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		Thinking    string `json:"thinking,omitempty"`
		Signature   string `json:"signature,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta"`
}

type anthropicContentBlockStopEvent struct {
	Index int `json:"index"`
}

type anthropicMessageDeltaEvent struct {
	Delta struct {
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicErrorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
