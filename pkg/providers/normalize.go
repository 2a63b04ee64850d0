// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package providers

import "encoding/json"

// NormalizeToolCall reconciles the two shapes a tool call can arrive in:
// the flat Name/Arguments form some backends emit directly, and the
// OpenAI-style nested Function form where arguments are a JSON string.
// After normalization, Name and Arguments are always populated and a
// thought signature (Gemini) found on Function or ExtraContent is copied
// up to the top-level ThoughtSignature field.
func NormalizeToolCall(tc ToolCall) ToolCall {
	if tc.Name == "" && tc.Function != nil {
		tc.Name = tc.Function.Name
	}

	if tc.Arguments == nil {
		tc.Arguments = map[string]any{}
		if tc.Function != nil && tc.Function.Arguments != "" {
			// Malformed argument JSON is left empty rather than failed here;
			// the tool registry reports bad arguments back to the model.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &tc.Arguments)
		}
	}

	if tc.Type == "" {
		tc.Type = "function"
	}

	if tc.ThoughtSignature == "" && tc.Function != nil {
		tc.ThoughtSignature = tc.Function.ThoughtSignature
	}
	if tc.ThoughtSignature == "" && tc.ExtraContent != nil && tc.ExtraContent.Google != nil {
		tc.ThoughtSignature = tc.ExtraContent.Google.ThoughtSignature
	}

	return tc
}
