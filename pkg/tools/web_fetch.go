// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	defaultFetchMaxChars = 50000
	fetchTimeoutSeconds  = 30
)

// WebFetchTool fetches a URL and returns its content as readable text.
// HTML is stripped to text; JSON and plain text pass through. Private and
// loopback addresses are rejected to keep the tool from being used as an
// SSRF proxy into the host's network.
type WebFetchTool struct {
	maxChars int
	client   *http.Client
}

func NewWebFetchTool(maxChars int) *WebFetchTool {
	return NewWebFetchToolWithProxy(maxChars, "")
}

func NewWebFetchToolWithProxy(maxChars int, proxy string) *WebFetchTool {
	if maxChars <= 0 {
		maxChars = defaultFetchMaxChars
	}
	return &WebFetchTool{
		maxChars: maxChars,
		client:   newProxiedHTTPClient(proxy, fetchTimeoutSeconds*time.Second),
	}
}

func (t *WebFetchTool) Name() string {
	return "web_fetch"
}

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and extract its content. HTML is converted to plain text; JSON and text are returned as-is."
}

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch",
			},
			"max_chars": map[string]any{
				"type":        "number",
				"description": "Maximum characters to return (truncates when exceeded)",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid URL: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrorResult("only http and https URLs are supported")
	}
	if parsed.Host == "" {
		return ErrorResult("missing hostname in URL")
	}
	if err := checkPrivateHost(parsed.Hostname()); err != nil {
		return ErrorResult(fmt.Sprintf("fetch blocked: %v", err))
	}

	maxChars := t.maxChars
	if mc, ok := args["max_chars"].(float64); ok && int(mc) >= 100 {
		maxChars = int(mc)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("User-Agent", webSearchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err)).WithError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ErrorResult(fmt.Sprintf("fetch returned HTTP %d for %s", resp.StatusCode, rawURL))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return ErrorResult(fmt.Sprintf("read body: %v", err)).WithError(err)
	}

	content := string(body)
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") || looksLikeHTML(content) {
		content = htmlToText(content)
	}

	truncated := false
	if len(content) > maxChars {
		content = content[:maxChars]
		truncated = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Content of %s:\n\n%s", rawURL, content)
	if truncated {
		sb.WriteString("\n\n[content truncated]")
	}
	return SilentResult(sb.String())
}

// checkPrivateHost rejects hostnames that resolve to loopback, link-local
// or RFC1918 addresses.
func checkPrivateHost(host string) error {
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("cannot resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("%s resolves to a private address", host)
		}
	}
	return nil
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(s)
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

var (
	scriptRe     = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	blockBreakRe = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|section|article)>|<br[^>]*>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// htmlToText is a deliberately small extractor: strip scripts and styles,
// turn block boundaries into newlines, drop the remaining tags, unescape a
// handful of common entities.
func htmlToText(html string) string {
	text := scriptRe.ReplaceAllString(html, "")
	text = blockBreakRe.ReplaceAllString(text, "\n")
	text = htmlTagRe.ReplaceAllString(text, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	text = replacer.Replace(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(text, "\n\n"))
}
