// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/aisopod/aisopod/pkg/logger"
)

const (
	defaultSearchCount   = 5
	maxSearchCount       = 10
	searchTimeoutSeconds = 30
	braveSearchEndpoint  = "https://api.search.brave.com/res/v1/web/search"
	tavilySearchPath     = "/search"
	perplexityEndpoint   = "https://api.perplexity.ai/chat/completions"
	webSearchUserAgent   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// SearchProvider abstracts a web search backend. Providers are tried in
// registration order; the first success wins.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, count int) ([]searchResult, error)
}

type searchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// WebSearchToolOptions mirrors the config surface for every supported
// search backend. Backends with no key (or explicitly disabled) are
// skipped; when none remain, NewWebSearchTool returns nil and the tool is
// simply not registered.
type WebSearchToolOptions struct {
	BraveAPIKey          string
	BraveMaxResults      int
	BraveEnabled         bool
	TavilyAPIKey         string
	TavilyBaseURL        string
	TavilyMaxResults     int
	TavilyEnabled        bool
	DuckDuckGoMaxResults int
	DuckDuckGoEnabled    bool
	PerplexityAPIKey     string
	PerplexityMaxResults int
	PerplexityEnabled    bool
	Proxy                string
}

// WebSearchTool queries the first available configured search backend.
type WebSearchTool struct {
	providers []SearchProvider
}

func NewWebSearchTool(opts WebSearchToolOptions) *WebSearchTool {
	client := newProxiedHTTPClient(opts.Proxy, searchTimeoutSeconds*time.Second)

	var provs []SearchProvider
	if opts.BraveEnabled && opts.BraveAPIKey != "" {
		provs = append(provs, &braveSearchProvider{apiKey: opts.BraveAPIKey, max: opts.BraveMaxResults, client: client})
	}
	if opts.TavilyEnabled && opts.TavilyAPIKey != "" {
		base := strings.TrimRight(opts.TavilyBaseURL, "/")
		if base == "" {
			base = "https://api.tavily.com"
		}
		provs = append(provs, &tavilySearchProvider{apiKey: opts.TavilyAPIKey, baseURL: base, max: opts.TavilyMaxResults, client: client})
	}
	if opts.DuckDuckGoEnabled {
		provs = append(provs, &duckDuckGoSearchProvider{max: opts.DuckDuckGoMaxResults, client: client})
	}
	if opts.PerplexityEnabled && opts.PerplexityAPIKey != "" {
		provs = append(provs, &perplexitySearchProvider{apiKey: opts.PerplexityAPIKey, max: opts.PerplexityMaxResults, client: client})
	}

	if len(provs) == 0 {
		return nil
	}
	return &WebSearchTool{providers: provs}
}

func newProxiedHTTPClient(proxy string, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}
	if proxy != "" {
		if proxyURL, err := url.Parse(proxy); err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		} else {
			logger.WarnCF("tools", "invalid proxy URL, ignoring", map[string]any{"proxy": proxy})
		}
	}
	return client
}

func (t *WebSearchTool) Name() string {
	return "web_search"
}

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs, and snippets from search results."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query string",
			},
			"count": map[string]any{
				"type":        "number",
				"description": fmt.Sprintf("Number of results to return (1-%d)", maxSearchCount),
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ErrorResult("query is required")
	}

	count := defaultSearchCount
	if c, ok := args["count"].(float64); ok && int(c) >= 1 && int(c) <= maxSearchCount {
		count = int(c)
	}

	var lastErr error
	for _, provider := range t.providers {
		results, err := provider.Search(ctx, query, count)
		if err != nil {
			logger.WarnCF("tools", "web_search provider failed", map[string]any{
				"provider": provider.Name(),
				"error":    err.Error(),
			})
			lastErr = err
			continue
		}
		return SilentResult(formatSearchResults(query, results, provider.Name()))
	}

	if lastErr != nil {
		return ErrorResult(fmt.Sprintf("all search providers failed: %v", lastErr))
	}
	return ErrorResult("no search providers configured")
}

func formatSearchResults(query string, results []searchResult, provider string) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s (via %s)\n\n", query, provider)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func clampCount(requested, configured int) int {
	count := requested
	if configured > 0 && count > configured {
		count = configured
	}
	if count < 1 {
		count = defaultSearchCount
	}
	return count
}

// --- Brave ---

type braveSearchProvider struct {
	apiKey string
	max    int
	client *http.Client
}

func (p *braveSearchProvider) Name() string { return "brave" }

func (p *braveSearchProvider) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", clampCount(count, p.max)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, braveSearchEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	body, err := readSearchResponse(p.client, req, "brave")
	if err != nil {
		return nil, err
	}

	var braveResp struct {
		Web struct {
			Results []searchResult `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &braveResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return braveResp.Web.Results, nil
}

// --- Tavily ---

type tavilySearchProvider struct {
	apiKey  string
	baseURL string
	max     int
	client  *http.Client
}

func (p *tavilySearchProvider) Name() string { return "tavily" }

func (p *tavilySearchProvider) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	payload, _ := json.Marshal(map[string]any{
		"query":       query,
		"max_results": clampCount(count, p.max),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+tavilySearchPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	body, err := readSearchResponse(p.client, req, "tavily")
	if err != nil {
		return nil, err
	}

	var tavilyResp struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &tavilyResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	results := make([]searchResult, 0, len(tavilyResp.Results))
	for _, r := range tavilyResp.Results {
		results = append(results, searchResult{Title: r.Title, URL: r.URL, Description: r.Content})
	}
	return results, nil
}

// --- DuckDuckGo (HTML endpoint, no API key) ---

type duckDuckGoSearchProvider struct {
	max    int
	client *http.Client
}

var (
	ddgLinkRe    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
)

func (p *duckDuckGoSearchProvider) Name() string { return "duckduckgo" }

func (p *duckDuckGoSearchProvider) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", webSearchUserAgent)

	body, err := readSearchResponse(p.client, req, "duckduckgo")
	if err != nil {
		return nil, err
	}
	return extractDDGResults(string(body), clampCount(count, p.max)), nil
}

func extractDDGResults(html string, count int) []searchResult {
	linkMatches := ddgLinkRe.FindAllStringSubmatch(html, count+5)
	snippetMatches := ddgSnippetRe.FindAllStringSubmatch(html, count+5)

	var results []searchResult
	for i := 0; i < len(linkMatches) && i < count; i++ {
		rawURL := linkMatches[i][1]
		title := strings.TrimSpace(htmlTagRe.ReplaceAllString(linkMatches[i][2], ""))

		// DDG wraps result URLs in a redirect; the real URL is in uddg=
		if strings.Contains(rawURL, "uddg=") {
			if u, err := url.QueryUnescape(rawURL); err == nil {
				if idx := strings.Index(u, "uddg="); idx != -1 {
					extracted := u[idx+5:]
					if ampIdx := strings.Index(extracted, "&"); ampIdx != -1 {
						extracted = extracted[:ampIdx]
					}
					rawURL = extracted
				}
			}
		}

		desc := ""
		if i < len(snippetMatches) {
			desc = strings.TrimSpace(htmlTagRe.ReplaceAllString(snippetMatches[i][1], ""))
		}

		results = append(results, searchResult{Title: title, URL: rawURL, Description: desc})
	}
	return results
}

// --- Perplexity (answer engine; returns one synthesized result) ---

type perplexitySearchProvider struct {
	apiKey string
	max    int
	client *http.Client
}

func (p *perplexitySearchProvider) Name() string { return "perplexity" }

func (p *perplexitySearchProvider) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	payload, _ := json.Marshal(map[string]any{
		"model": "sonar",
		"messages": []map[string]string{
			{"role": "user", "content": query},
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, perplexityEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	body, err := readSearchResponse(p.client, req, "perplexity")
	if err != nil {
		return nil, err
	}

	var pplxResp struct {
		Citations []string `json:"citations"`
		Choices   []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &pplxResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(pplxResp.Choices) == 0 {
		return nil, fmt.Errorf("empty perplexity response")
	}

	results := []searchResult{{Title: "Perplexity answer", Description: pplxResp.Choices[0].Message.Content}}
	limit := clampCount(count, p.max)
	for i, c := range pplxResp.Citations {
		if i >= limit {
			break
		}
		results = append(results, searchResult{Title: fmt.Sprintf("Citation %d", i+1), URL: c})
	}
	return results, nil
}

func readSearchResponse(client *http.Client, req *http.Request, provider string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return nil, fmt.Errorf("%s API returned %d: %s", provider, resp.StatusCode, preview)
	}
	return body, nil
}
