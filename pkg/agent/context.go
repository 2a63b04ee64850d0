// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aisopod/aisopod/pkg/logger"
	"github.com/aisopod/aisopod/pkg/providers"
	"github.com/aisopod/aisopod/pkg/skills"
	"github.com/aisopod/aisopod/pkg/tools"
)

// MemoryRetriever returns a ready-to-inject memory context section for
// the given query text, or "" when nothing relevant is stored. Wired to
// the vector memory pipeline when memory is enabled.
type MemoryRetriever func(query string) string

// ContextBuilder assembles the system prompt and message list for each
// turn: base prompt, dynamic context, tool descriptions, skill
// instructions and memory context, in that order.
type ContextBuilder struct {
	workspace       string
	skillsLoader    *skills.SkillsLoader
	skillsFilter    []string
	notes           *MemoryStore
	tools           *tools.ToolRegistry
	memoryRetriever MemoryRetriever
}

func getGlobalConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".picoclaw")
}

func NewContextBuilder(workspace string) *ContextBuilder {
	wd, _ := os.Getwd()
	builtinSkillsDir := filepath.Join(wd, "skills")
	globalSkillsDir := filepath.Join(getGlobalConfigDir(), "skills")

	return &ContextBuilder{
		workspace:    workspace,
		skillsLoader: skills.NewSkillsLoader(workspace, globalSkillsDir, builtinSkillsDir),
		notes:        NewMemoryStore(workspace),
	}
}

// SetToolsRegistry enables the tool-descriptions section of the system
// prompt.
func (cb *ContextBuilder) SetToolsRegistry(registry *tools.ToolRegistry) {
	cb.tools = registry
}

// SetMemoryRetriever enables the memory-context section, fed by the
// vector memory pipeline.
func (cb *ContextBuilder) SetMemoryRetriever(r MemoryRetriever) {
	cb.memoryRetriever = r
}

// SetSkillsFilter restricts which skills are loaded in full. Empty means
// summary-only for all installed skills.
func (cb *ContextBuilder) SetSkillsFilter(names []string) {
	cb.skillsFilter = names
}

// basePrompt loads the agent's identity files from the workspace; when
// none exist a minimal default identity is used.
func (cb *ContextBuilder) basePrompt() string {
	bootstrapFiles := []string{"AGENTS.md", "SOUL.md", "USER.md", "IDENTITY.md"}

	var sb strings.Builder
	for _, filename := range bootstrapFiles {
		if data, err := os.ReadFile(filepath.Join(cb.workspace, filename)); err == nil {
			fmt.Fprintf(&sb, "## %s\n\n%s\n\n", filename, string(data))
		}
	}
	if sb.Len() > 0 {
		return strings.TrimSpace(sb.String())
	}

	return "You are a helpful AI assistant. Use your tools to take real actions instead of describing what you would do."
}

func (cb *ContextBuilder) dynamicContext() string {
	now := time.Now().UTC().Format("2006-01-02 15:04:05 UTC (Monday)")
	workspacePath, _ := filepath.Abs(cb.workspace)
	return fmt.Sprintf("## Current Context\n\nTime: %s\nWorkspace: %s", now, workspacePath)
}

// toolsSection renders every registered tool as name, description and
// pretty-printed parameter schema.
func (cb *ContextBuilder) toolsSection() string {
	if cb.tools == nil {
		return ""
	}
	all := cb.tools.List()
	if len(all) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, t := range all {
		schema, err := json.MarshalIndent(t.Parameters(), "", "  ")
		if err != nil {
			schema = []byte("{}")
		}
		fmt.Fprintf(&sb, "## %s\n%s\n\nParameters:\n%s\n\n", t.Name(), t.Description(), string(schema))
	}
	return strings.TrimSpace(sb.String())
}

func (cb *ContextBuilder) skillsSection() string {
	if len(cb.skillsFilter) > 0 {
		if full := cb.skillsLoader.LoadSkillsForContext(cb.skillsFilter); full != "" {
			return "## Skills\n\n" + full
		}
	}
	summary := cb.skillsLoader.BuildSkillsSummary()
	if summary == "" {
		return ""
	}
	return "## Skills\n\nThe following skills extend your capabilities. Read the skill's SKILL.md for full instructions before using it.\n\n" + summary
}

func (cb *ContextBuilder) memorySection(query string) string {
	var parts []string

	// Long-term notes kept by the agent itself.
	if notes := cb.notes.GetMemoryContext(); notes != "" {
		parts = append(parts, "## Memory\n\n"+notes)
	}

	// Vector-recalled facts relevant to this message.
	if cb.memoryRetriever != nil && query != "" {
		if recalled := cb.memoryRetriever(query); recalled != "" {
			parts = append(parts, "## Memory Context\n\n"+recalled)
		}
	}

	return strings.Join(parts, "\n\n")
}

// BuildSystemPrompt composes the full system prompt for one turn.
func (cb *ContextBuilder) BuildSystemPrompt(currentMessage string) string {
	sections := []string{
		cb.basePrompt(),
		cb.dynamicContext(),
		cb.toolsSection(),
		cb.skillsSection(),
		cb.memorySection(currentMessage),
	}

	var kept []string
	for _, s := range sections {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}

// BuildMessages assembles the provider message list: system prompt,
// summary of compacted history, replayed transcript, then the new user
// message. mediaRefs, when present, are appended to the user message as
// file paths the agent can read.
func (cb *ContextBuilder) BuildMessages(
	history []providers.Message,
	summary string,
	currentMessage string,
	mediaRefs []string,
	channel, chatID string,
) []providers.Message {
	systemPrompt := cb.BuildSystemPrompt(currentMessage)

	if channel != "" && chatID != "" {
		systemPrompt += fmt.Sprintf("\n\n## Current Session\nChannel: %s\nChat ID: %s", channel, chatID)
	}

	if summary != "" {
		systemPrompt += "\n\n## Summary of Previous Conversation\n\n" + summary
	}

	logger.DebugCF("agent", "System prompt built",
		map[string]any{
			"total_chars": len(systemPrompt),
			"total_lines": strings.Count(systemPrompt, "\n") + 1,
		})

	// A history head of orphaned tool results (from truncation) would be
	// rejected by providers that pair tool messages with tool_calls.
	for len(history) > 0 && history[0].Role == "tool" {
		history = history[1:]
	}

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)

	userContent := currentMessage
	if len(mediaRefs) > 0 {
		userContent += "\n\n[Attached files: " + strings.Join(mediaRefs, ", ") + "]"
	}
	if userContent != "" {
		messages = append(messages, providers.Message{Role: "user", Content: userContent})
	}

	return messages
}

// GetSkillsInfo returns information about loaded skills for startup
// logging.
func (cb *ContextBuilder) GetSkillsInfo() map[string]any {
	all := cb.skillsLoader.ListSkills()
	names := make([]string, 0, len(all))
	for _, s := range all {
		names = append(names, s.Name)
	}
	return map[string]any{
		"total":     len(all),
		"available": len(all),
		"names":     names,
	}
}
