// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package tools

import (
	"context"
	"fmt"

	"github.com/aisopod/aisopod/pkg/memory"
)

// MemorySearchTool gives the agent semantic recall over its vector
// memory store. Scoped to the owning agent's entries.
type MemorySearchTool struct {
	store    *memory.Store
	embedder memory.Embedder
	agentID  string
}

func NewMemorySearchTool(store *memory.Store, embedder memory.Embedder, agentID string) *MemorySearchTool {
	return &MemorySearchTool{store: store, embedder: embedder, agentID: agentID}
}

func (t *MemorySearchTool) Name() string {
	return "search_memory"
}

func (t *MemorySearchTool) Description() string {
	return "Search your memory of past conversations and facts about the user. Call this proactively whenever prior context, preferences, or past discussions could help."
}

func (t *MemorySearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Natural language query describing what you want to recall",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return (default: 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return ErrorResult("query is required")
	}

	limit := 5
	if l, ok := args["limit"].(float64); ok && int(l) > 0 {
		limit = int(l)
	}

	formatted, err := memory.QueryAndFormat(ctx, t.store, t.embedder, query, memory.Options{
		TopK:   limit,
		Filter: memory.Filter{}.WithAgent(t.agentID),
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory search failed: %v", err))
	}
	return SilentResult(formatted)
}

// RememberTool lets the agent store a fact explicitly, as opposed to the
// post-turn extraction that derives facts automatically.
type RememberTool struct {
	store    *memory.Store
	embedder memory.Embedder
	agentID  string
}

func NewRememberTool(store *memory.Store, embedder memory.Embedder, agentID string) *RememberTool {
	return &RememberTool{store: store, embedder: embedder, agentID: agentID}
}

func (t *RememberTool) Name() string {
	return "remember"
}

func (t *RememberTool) Description() string {
	return "Store a durable fact in your memory for later recall: user preferences, commitments, project context."
}

func (t *RememberTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The fact to remember, phrased to stand alone",
			},
			"importance": map[string]any{
				"type":        "number",
				"description": "How important this fact is, 0.0-1.0 (default 0.5)",
			},
			"tags": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional tags for filtering",
			},
		},
		"required": []string{"content"},
	}
}

func (t *RememberTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	content, ok := args["content"].(string)
	if !ok || content == "" {
		return ErrorResult("content is required")
	}

	importance := 0.5
	if imp, ok := args["importance"].(float64); ok && imp >= 0 && imp <= 1 {
		importance = imp
	}

	var tags []string
	if rawTags, ok := args["tags"].([]any); ok {
		for _, rt := range rawTags {
			if tag, ok := rt.(string); ok && tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	vec, err := t.embedder.Embed(ctx, content)
	if err != nil {
		return ErrorResult(fmt.Sprintf("embedding failed: %v", err))
	}

	id, err := t.store.Store(ctx, memory.MemoryEntry{
		AgentID:   t.agentID,
		Content:   content,
		Embedding: vec,
		Metadata: memory.Metadata{
			Source:     memory.SourceAgent,
			Importance: importance,
			Tags:       tags,
		},
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("storing memory failed: %v", err))
	}

	return SilentResult(fmt.Sprintf("Remembered (id %s): %s", id, content))
}
