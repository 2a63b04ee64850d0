// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package tools

import (
	"context"
	"fmt"
)

// SendCallback delivers a message to a chat channel on behalf of the
// message tool. Wired by the agent loop to the outbound bus.
type SendCallback func(channel, chatID, content string) error

// MessageTool lets the LLM push a message to the user mid-turn instead of
// waiting for the final response. The loop checks HasSentInRound to avoid
// publishing a duplicate final message.
type MessageTool struct {
	sendCallback   SendCallback
	defaultChannel string
	defaultChatID  string
	sentInRound    bool
}

func NewMessageTool() *MessageTool {
	return &MessageTool{}
}

func (t *MessageTool) Name() string {
	return "message"
}

func (t *MessageTool) Description() string {
	return "Send a message to the user on a chat channel. Use this when you want to communicate something before your final answer, or to reach a different channel/chat."
}

func (t *MessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The message content to send",
			},
			"channel": map[string]any{
				"type":        "string",
				"description": "Optional: target channel (telegram, whatsapp, etc.)",
			},
			"chat_id": map[string]any{
				"type":        "string",
				"description": "Optional: target chat/user ID",
			},
		},
		"required": []string{"content"},
	}
}

// SetContext implements ContextualTool. Also resets send tracking for the
// new processing round.
func (t *MessageTool) SetContext(channel, chatID string) {
	t.defaultChannel = channel
	t.defaultChatID = chatID
	t.sentInRound = false
}

// HasSentInRound returns true if the message tool sent a message during
// the current round.
func (t *MessageTool) HasSentInRound() bool {
	return t.sentInRound
}

func (t *MessageTool) SetSendCallback(callback SendCallback) {
	t.sendCallback = callback
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	content, ok := args["content"].(string)
	if !ok || content == "" {
		return ErrorResult("content is required")
	}

	channel, _ := args["channel"].(string)
	chatID, _ := args["chat_id"].(string)

	if channel == "" {
		channel = t.defaultChannel
	}
	if chatID == "" {
		chatID = t.defaultChatID
	}

	if channel == "" || chatID == "" {
		return ErrorResult("no target channel/chat specified")
	}

	if t.sendCallback == nil {
		return ErrorResult("message sending not configured")
	}

	if err := t.sendCallback(channel, chatID, content); err != nil {
		return ErrorResult(fmt.Sprintf("sending message: %v", err)).WithError(err)
	}

	t.sentInRound = true
	// Silent: the user already received the message directly.
	return SilentResult(fmt.Sprintf("Message sent to %s:%s", channel, chatID))
}
