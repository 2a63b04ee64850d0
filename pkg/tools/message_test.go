package tools

import (
	"context"
	"errors"
	"testing"
)

func TestMessageToolExecute(t *testing.T) {
	tool := NewMessageTool()
	tool.SetContext("test-channel", "test-chat-id")

	var sentChannel, sentChatID, sentContent string
	tool.SetSendCallback(func(channel, chatID, content string) error {
		sentChannel = channel
		sentChatID = chatID
		sentContent = content
		return nil
	})

	result := tool.Execute(context.Background(), map[string]any{
		"content": "Hello, world!",
	})

	if sentChannel != "test-channel" || sentChatID != "test-chat-id" {
		t.Errorf("sent to %s:%s, want test-channel:test-chat-id", sentChannel, sentChatID)
	}
	if sentContent != "Hello, world!" {
		t.Errorf("sent content %q", sentContent)
	}
	if !result.Silent {
		t.Error("expected Silent=true for successful send")
	}
	if result.IsError {
		t.Error("expected IsError=false for successful send")
	}
	if !tool.HasSentInRound() {
		t.Error("expected HasSentInRound=true after a send")
	}
}

func TestMessageToolExplicitTargetOverridesContext(t *testing.T) {
	tool := NewMessageTool()
	tool.SetContext("default-channel", "default-chat")

	var sentChannel, sentChatID string
	tool.SetSendCallback(func(channel, chatID, content string) error {
		sentChannel = channel
		sentChatID = chatID
		return nil
	})

	tool.Execute(context.Background(), map[string]any{
		"content": "hi",
		"channel": "telegram",
		"chat_id": "12345",
	})

	if sentChannel != "telegram" || sentChatID != "12345" {
		t.Errorf("sent to %s:%s, want telegram:12345", sentChannel, sentChatID)
	}
}

func TestMessageToolSetContextResetsRoundTracking(t *testing.T) {
	tool := NewMessageTool()
	tool.SetContext("c", "1")
	tool.SetSendCallback(func(channel, chatID, content string) error { return nil })

	tool.Execute(context.Background(), map[string]any{"content": "one"})
	if !tool.HasSentInRound() {
		t.Fatal("expected send to be tracked")
	}

	tool.SetContext("c", "1")
	if tool.HasSentInRound() {
		t.Error("expected SetContext to reset round tracking")
	}
}

func TestMessageToolErrors(t *testing.T) {
	tool := NewMessageTool()

	// No content.
	if result := tool.Execute(context.Background(), map[string]any{}); !result.IsError {
		t.Error("expected error for missing content")
	}

	// No target at all.
	if result := tool.Execute(context.Background(), map[string]any{"content": "x"}); !result.IsError {
		t.Error("expected error without channel/chat context")
	}

	// Callback failure propagates as an error result.
	tool.SetContext("c", "1")
	tool.SetSendCallback(func(channel, chatID, content string) error {
		return errors.New("network down")
	})
	result := tool.Execute(context.Background(), map[string]any{"content": "x"})
	if !result.IsError {
		t.Error("expected error when callback fails")
	}
	if tool.HasSentInRound() {
		t.Error("failed send must not count as sent")
	}
}
