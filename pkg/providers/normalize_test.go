package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeToolCallFromFunctionForm(t *testing.T) {
	tc := NormalizeToolCall(ToolCall{
		ID: "call_1",
		Function: &FunctionCall{
			Name:      "bash",
			Arguments: `{"command":"echo hi","timeout":5}`,
		},
	})

	assert.Equal(t, "bash", tc.Name)
	assert.Equal(t, "function", tc.Type)
	assert.Equal(t, "echo hi", tc.Arguments["command"])
	assert.Equal(t, float64(5), tc.Arguments["timeout"])
}

func TestNormalizeToolCallKeepsFlatForm(t *testing.T) {
	tc := NormalizeToolCall(ToolCall{
		ID:        "call_2",
		Name:      "message",
		Arguments: map[string]any{"content": "hi"},
	})

	assert.Equal(t, "message", tc.Name)
	assert.Equal(t, "hi", tc.Arguments["content"])
}

func TestNormalizeToolCallMalformedArguments(t *testing.T) {
	tc := NormalizeToolCall(ToolCall{
		ID: "call_3",
		Function: &FunctionCall{
			Name:      "bash",
			Arguments: `{not json`,
		},
	})

	// Bad argument JSON yields an empty map, not a nil one; the registry
	// reports the problem to the model downstream.
	assert.NotNil(t, tc.Arguments)
	assert.Empty(t, tc.Arguments)
}

func TestNormalizeToolCallLiftsThoughtSignature(t *testing.T) {
	tc := NormalizeToolCall(ToolCall{
		ID: "call_4",
		Function: &FunctionCall{
			Name:             "bash",
			Arguments:        `{}`,
			ThoughtSignature: "sig-from-function",
		},
	})
	assert.Equal(t, "sig-from-function", tc.ThoughtSignature)

	tc = NormalizeToolCall(ToolCall{
		ID:   "call_5",
		Name: "bash",
		ExtraContent: &ExtraContent{
			Google: &GoogleExtra{ThoughtSignature: "sig-from-extra"},
		},
	})
	assert.Equal(t, "sig-from-extra", tc.ThoughtSignature)
}
