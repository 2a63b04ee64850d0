package tools

import (
	"context"
	"strings"
	"testing"
)

func TestHTMLToText(t *testing.T) {
	html := `<!doctype html><html><head><style>body { color: red }</style>
<script>alert("x")</script></head>
<body><h1>Title</h1><p>First &amp; second.</p><div>Another block</div></body></html>`

	text := htmlToText(html)

	if strings.Contains(text, "alert") || strings.Contains(text, "color: red") {
		t.Errorf("script/style content leaked: %q", text)
	}
	if !strings.Contains(text, "Title") || !strings.Contains(text, "First & second.") {
		t.Errorf("content lost: %q", text)
	}
	if !strings.Contains(text, "Another block") {
		t.Errorf("block content lost: %q", text)
	}
}

func TestWebFetchRejectsBadURLs(t *testing.T) {
	tool := NewWebFetchToolWithProxy(1000, "")
	ctx := context.Background()

	for _, args := range []map[string]any{
		{},
		{"url": "ftp://example.com/file"},
		{"url": "http://"},
	} {
		if result := tool.Execute(ctx, args); !result.IsError {
			t.Errorf("expected error for args %v", args)
		}
	}
}

func TestWebFetchBlocksPrivateHosts(t *testing.T) {
	tool := NewWebFetchToolWithProxy(1000, "")

	result := tool.Execute(context.Background(), map[string]any{
		"url": "http://127.0.0.1:8080/admin",
	})
	if !result.IsError {
		t.Error("expected loopback fetch to be blocked")
	}
	if !strings.Contains(result.ForLLM, "blocked") {
		t.Errorf("error should mention the block: %q", result.ForLLM)
	}
}

func TestLooksLikeHTML(t *testing.T) {
	if !looksLikeHTML("<!DOCTYPE html><html>") {
		t.Error("doctype should be detected")
	}
	if looksLikeHTML(`{"key": "value"}`) {
		t.Error("JSON misdetected as HTML")
	}
}
