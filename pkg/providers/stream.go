package providers

import "context"

// FinishReason enumerates the uniform set of reasons a chat turn ended,
// independent of how any particular backend spells it on the wire.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCall       FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// ChatChunk is one increment of a streamed response. Every backend in this
// module is non-streaming, so in practice exactly one ChatChunk is ever
// produced per call: the final one, carrying the whole response and usage.
type ChatChunk struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        *UsageInfo
	Err          error
}

// StreamFunc is called once per chunk; returning a non-nil error aborts
// further delivery.
type StreamFunc func(ChatChunk) error

// StreamChat adapts any non-streaming LLMProvider into a single-terminal-
// chunk stream. The agent runner in pkg/agent does not go through it; it
// calls Chat directly.
func StreamChat(ctx context.Context, p LLMProvider, messages []Message, tools []ToolDefinition, model string, options map[string]any, onChunk StreamFunc) error {
	resp, err := p.Chat(ctx, messages, tools, model, options)
	if err != nil {
		return onChunk(ChatChunk{FinishReason: FinishError, Err: err})
	}

	reason := normalizeFinishReason(resp.FinishReason)
	return onChunk(ChatChunk{
		Content:      resp.Content,
		ToolCalls:    resp.ToolCalls,
		FinishReason: reason,
		Usage:        resp.Usage,
	})
}

func normalizeFinishReason(raw string) FinishReason {
	switch raw {
	case "tool_calls", "tool_use":
		return FinishToolCall
	case "length", "max_tokens":
		return FinishLength
	case "content_filter":
		return FinishContentFilter
	case "":
		return FinishStop
	default:
		return FinishReason(raw)
	}
}
