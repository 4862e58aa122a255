// Package runtime defines the envelope protocol spoken between the gateway
// and an agent runtime, and ships two implementations: an in-process engine
// driving a streaming provider with registered tools, and a WebSocket client
// for remote runtimes (see the remote subpackage).
package runtime

// Envelope types.
const (
	TypeSystem    = "system"
	TypeAssistant = "assistant"
	TypeUser      = "user"
	TypeResult    = "result"
)

// Common subtypes. Error subtypes are open-ended (error_*).
const (
	SubtypeInit    = "init"
	SubtypeSuccess = "success"
)

// Block is one content element inside an assistant or user envelope. The
// Type tag selects which fields are meaningful; decoders must tolerate
// variants they do not recognize.
type Block struct {
	Type     string `json:"type"` // thinking | text | tool_use | tool_result
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Usage reports token consumption for a turn.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// Message is one runtime envelope. A turn is a sequence of envelopes ending
// in a result message.
type Message struct {
	Type          string  `json:"type"`
	Subtype       string  `json:"subtype,omitempty"`
	Content       []Block `json:"content,omitempty"`
	Result        string  `json:"result,omitempty"`
	Usage         *Usage  `json:"usage,omitempty"`
	TotalCostUSD  float64 `json:"total_cost_usd,omitempty"`
	DurationMS    int64   `json:"duration_ms,omitempty"`
	DurationAPIMS int64   `json:"duration_api_ms,omitempty"`
	NumTurns      int     `json:"num_turns,omitempty"`
	IsError       bool    `json:"is_error,omitempty"`
}

// ToolUses returns the tool_use blocks of an assistant envelope, in order.
func (m Message) ToolUses() []Block {
	var uses []Block
	for _, b := range m.Content {
		if b.Type == "tool_use" {
			uses = append(uses, b)
		}
	}
	return uses
}
