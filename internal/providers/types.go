package providers

import "context"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types. The constants match the Anthropic wire names so
// blocks round-trip without translation.
const (
	BlockText       = "text"
	BlockThinking   = "thinking"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Stop reasons reported by the model.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Provider abstracts the upstream model API.
type Provider interface {
	// Chat sends a request and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends a streaming request. onChunk receives incremental
	// updates while the response is assembled; the returned ChatResponse
	// is the complete message.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)

	// Name returns the provider identifier (for logging).
	Name() string

	// DefaultModel returns the model used when a request does not name one.
	DefaultModel() string
}

// ContentBlock is one ordered element of a message: visible text, a
// thinking block, a tool invocation, or a tool result fed back on the
// next round. Which fields are set depends on Type.
type ContentBlock struct {
	Type      string
	Text      string         // text
	Thinking  string         // thinking
	Signature string         // thinking; echoed back on tool passback
	ID        string         // tool_use
	Name      string         // tool_use
	Input     map[string]any // tool_use
	ToolUseID string         // tool_result
	Content   string         // tool_result
	IsError   bool           // tool_result
}

// Message is a single conversation entry with ordered content blocks.
type Message struct {
	Role    string
	Content []ContentBlock
}

// UserText builds a plain-text user message.
func UserText(text string) Message {
	return Message{
		Role:    RoleUser,
		Content: []ContentBlock{{Type: BlockText, Text: text}},
	}
}

// ToolSchema declares one callable tool to the model.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ThinkingOption enables extended thinking with a token budget.
type ThinkingOption struct {
	BudgetTokens int
}

// ChatRequest is one model invocation.
type ChatRequest struct {
	Model     string // empty = provider default
	System    string
	Messages  []Message
	Tools     []ToolSchema
	MaxTokens int
	Thinking  *ThinkingOption
}

// ChatResponse is a completed model response with blocks in wire order.
type ChatResponse struct {
	Blocks     []ContentBlock
	StopReason string
	Usage      Usage
}

// Text concatenates the text blocks of the response.
func (r *ChatResponse) Text() string {
	var out string
	for _, b := range r.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks in wire order.
func (r *ChatResponse) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range r.Blocks {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// StreamChunk is an incremental update from ChatStream. Text and Thinking
// carry deltas. Block is set exactly once per content block, when the
// block completes (tool input fully assembled, thinking signature
// attached). Done marks the end of the stream.
type StreamChunk struct {
	Text     string
	Thinking string
	Block    *ContentBlock
	Done     bool
}

// Usage is the token accounting for one model invocation.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheCreationTokens int
	CacheReadTokens     int
}
