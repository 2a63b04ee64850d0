// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aisopod/aisopod/pkg/logger"
	"github.com/aisopod/aisopod/pkg/memory"
	"github.com/aisopod/aisopod/pkg/providers"
)

const extractionPrompt = `Review the conversation below and extract durable facts worth remembering about the user or their ongoing work: preferences, commitments, personal details, project context. Ignore small talk and anything transient.

Respond with a JSON array only, no prose. Each element: {"content": "<one self-contained fact>", "importance": <0.0-1.0>, "tags": ["tag", ...]}. Respond with [] when nothing is worth keeping.

CONVERSATION:
%s`

// maybeExtractMemories derives vector memories from the session's recent
// history after a turn. Runs in the background; failures are logged and
// never affect the response.
func (al *AgentLoop) maybeExtractMemories(agent *AgentInstance, sessionKey string) {
	if agent.Memory == nil || !agent.MemoryOpts.ExtractAfterRun {
		return
	}

	history := agent.Sessions.GetHistory(sessionKey)
	minMessages := agent.MemoryOpts.MinMessagesForExtraction
	if minMessages <= 0 {
		minMessages = 4
	}
	if len(history) < minMessages {
		return
	}

	extractKey := "extract:" + agent.ID + ":" + sessionKey
	if _, loading := al.summarizing.LoadOrStore(extractKey, true); loading {
		return
	}

	go func() {
		defer al.summarizing.Delete(extractKey)
		al.extractMemories(agent, sessionKey, history)
	}()
}

func (al *AgentLoop) extractMemories(agent *AgentInstance, sessionKey string, history []providers.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Only the conversational tail matters; tool chatter is noise.
	var sb strings.Builder
	start := 0
	if len(history) > 12 {
		start = len(history) - 12
	}
	for _, m := range history[start:] {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if m.Content == "" {
			continue
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return
	}

	response, err := agent.Provider.Chat(
		ctx,
		[]providers.Message{{Role: "user", Content: strings.Replace(extractionPrompt, "%s", sb.String(), 1)}},
		nil,
		agent.Model,
		map[string]any{
			"max_tokens":  1024,
			"temperature": 0.2,
		},
	)
	if err != nil {
		logger.WarnCF("agent", "memory extraction LLM call failed", map[string]any{
			"agent_id": agent.ID,
			"error":    err.Error(),
		})
		return
	}

	facts := parseExtractedFacts(response.Content)
	if len(facts) == 0 {
		return
	}

	stored := 0
	for _, f := range facts {
		vec, err := agent.Embedder.Embed(ctx, f.Content)
		if err != nil {
			logger.WarnCF("agent", "memory embedding failed", map[string]any{
				"agent_id": agent.ID,
				"error":    err.Error(),
			})
			continue
		}

		importance := f.Importance
		if importance < 0 {
			importance = 0
		}
		if importance > 1 {
			importance = 1
		}

		_, err = agent.Memory.Store(ctx, memory.MemoryEntry{
			AgentID:   agent.ID,
			Content:   f.Content,
			Embedding: vec,
			Metadata: memory.Metadata{
				Source:     memory.SourceDerived,
				Importance: importance,
				Tags:       f.Tags,
			},
		})
		if err != nil {
			logger.WarnCF("agent", "memory store failed", map[string]any{
				"agent_id": agent.ID,
				"error":    err.Error(),
			})
			continue
		}
		stored++
	}

	if stored > 0 {
		logger.InfoCF("agent", "Extracted memories from session", map[string]any{
			"agent_id":    agent.ID,
			"session_key": sessionKey,
			"count":       stored,
		})
	}
}

type extractedFact struct {
	Content    string   `json:"content"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags"`
}

// parseExtractedFacts tolerates models that wrap the JSON array in a code
// fence or prose.
func parseExtractedFacts(content string) []extractedFact {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil
	}

	var facts []extractedFact
	if err := json.Unmarshal([]byte(content[start:end+1]), &facts); err != nil {
		return nil
	}

	kept := facts[:0]
	for _, f := range facts {
		if strings.TrimSpace(f.Content) != "" {
			kept = append(kept, f)
		}
	}
	return kept
}
