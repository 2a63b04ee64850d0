package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aisopod/aisopod/pkg/providers"
	"github.com/aisopod/aisopod/pkg/tools"
)

func TestBuildMessagesShape(t *testing.T) {
	tmpDir := t.TempDir()
	cb := NewContextBuilder(tmpDir)

	history := []providers.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}

	messages := cb.BuildMessages(history, "", "new question", nil, "telegram", "42")

	if len(messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(messages))
	}
	if messages[0].Role != "system" {
		t.Fatalf("first message role = %s, want system", messages[0].Role)
	}
	if messages[3].Role != "user" || messages[3].Content != "new question" {
		t.Fatalf("last message = %+v, want the new user message", messages[3])
	}
	if !strings.Contains(messages[0].Content, "Channel: telegram") {
		t.Error("system prompt missing session channel")
	}
}

func TestBuildMessagesStripsOrphanedToolHead(t *testing.T) {
	cb := NewContextBuilder(t.TempDir())

	history := []providers.Message{
		{Role: "tool", Content: "orphaned result", ToolCallID: "call_0"},
		{Role: "user", Content: "hello"},
	}

	messages := cb.BuildMessages(history, "", "next", nil, "", "")
	for _, m := range messages {
		if m.Role == "tool" {
			t.Fatal("orphaned tool message survived history replay")
		}
	}
}

func TestBuildMessagesEmptyUserMessageOmitted(t *testing.T) {
	cb := NewContextBuilder(t.TempDir())

	messages := cb.BuildMessages(nil, "", "", nil, "", "")
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want just the system prompt", len(messages))
	}
}

func TestBuildMessagesIncludesSummary(t *testing.T) {
	cb := NewContextBuilder(t.TempDir())

	messages := cb.BuildMessages(nil, "they discussed deployment plans", "go on", nil, "", "")
	if !strings.Contains(messages[0].Content, "Summary of Previous Conversation") {
		t.Error("system prompt missing summary section")
	}
	if !strings.Contains(messages[0].Content, "they discussed deployment plans") {
		t.Error("system prompt missing summary content")
	}
}

func TestSystemPromptIncludesToolDescriptions(t *testing.T) {
	cb := NewContextBuilder(t.TempDir())
	registry := tools.NewToolRegistry()
	registry.Register(tools.NewMessageTool())
	cb.SetToolsRegistry(registry)

	prompt := cb.BuildSystemPrompt("")
	if !strings.Contains(prompt, "## message") {
		t.Error("tool section missing tool heading")
	}
	if !strings.Contains(prompt, "Parameters:") {
		t.Error("tool section missing parameters schema")
	}
}

func TestSystemPromptMemoryRetriever(t *testing.T) {
	cb := NewContextBuilder(t.TempDir())

	var gotQuery string
	cb.SetMemoryRetriever(func(query string) string {
		gotQuery = query
		return "## Relevant Memories\n\n- [score: 0.95] user likes tea"
	})

	prompt := cb.BuildSystemPrompt("what do I drink?")
	if gotQuery != "what do I drink?" {
		t.Errorf("retriever query = %q", gotQuery)
	}
	if !strings.Contains(prompt, "Memory Context") {
		t.Error("prompt missing memory context section")
	}
	if !strings.Contains(prompt, "user likes tea") {
		t.Error("prompt missing recalled memory")
	}

	// Empty query must not invoke retrieval.
	gotQuery = "unset"
	cb.BuildSystemPrompt("")
	if gotQuery != "unset" {
		t.Error("retriever invoked for empty query")
	}
}

func TestBasePromptPrefersWorkspaceIdentityFiles(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "AGENTS.md"), []byte("You are the ops bot."), 0o644); err != nil {
		t.Fatal(err)
	}

	cb := NewContextBuilder(tmpDir)
	prompt := cb.BuildSystemPrompt("")
	if !strings.Contains(prompt, "You are the ops bot.") {
		t.Error("workspace identity file not loaded into base prompt")
	}
}
