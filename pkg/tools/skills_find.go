// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/aisopod/aisopod/pkg/logger"
	"github.com/aisopod/aisopod/pkg/skills"
)

const defaultFindSkillsLimit = 10

// FindSkillsTool lets the agent discover installable skills across every
// configured registry. Shares its RegistryManager with InstallSkillTool
// so whatever it finds can be installed.
type FindSkillsTool struct {
	registryMgr *skills.RegistryManager
	cache       *skills.SearchCache
}

func NewFindSkillsTool(registryMgr *skills.RegistryManager, cache *skills.SearchCache) *FindSkillsTool {
	return &FindSkillsTool{
		registryMgr: registryMgr,
		cache:       cache,
	}
}

func (t *FindSkillsTool) Name() string {
	return "find_skills"
}

func (t *FindSkillsTool) Description() string {
	return "Search skill registries for installable skills matching a query. Returns slugs usable with install_skill."
}

func (t *FindSkillsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search terms describing the capability you need",
			},
			"limit": map[string]any{
				"type":        "number",
				"description": fmt.Sprintf("Maximum results to return (default %d)", defaultFindSkillsLimit),
			},
		},
		"required": []string{"query"},
	}
}

func (t *FindSkillsTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrorResult("query is required")
	}

	limit := defaultFindSkillsLimit
	if l, ok := args["limit"].(float64); ok && int(l) > 0 {
		limit = int(l)
	}

	if len(t.registryMgr.ListRegistries()) == 0 {
		return ErrorResult("no skill registries configured")
	}

	cacheKey := fmt.Sprintf("%s:%d", strings.ToLower(query), limit)
	results, ok := t.cache.Get(cacheKey)
	if !ok {
		var errs []error
		results, errs = t.registryMgr.SearchAll(ctx, query, limit)
		for _, err := range errs {
			logger.WarnCF("tool", "skill registry search failed", map[string]any{
				"tool":  "find_skills",
				"error": err.Error(),
			})
		}
		if len(results) == 0 && len(errs) > 0 {
			return ErrorResult(fmt.Sprintf("all registry searches failed: %v", errs[0]))
		}
		t.cache.Set(cacheKey, results)
	}

	if len(results) == 0 {
		return SilentResult(fmt.Sprintf("No skills found for: %s", query))
	}
	if len(results) > limit {
		results = results[:limit]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Skills matching %q:\n\n", query)
	for _, r := range results {
		fmt.Fprintf(&sb, "- %s (registry: %s", r.Slug, r.Registry)
		if r.Version != "" {
			fmt.Fprintf(&sb, ", v%s", r.Version)
		}
		sb.WriteString(")")
		if r.IsSuspicious {
			sb.WriteString(" [flagged: suspicious]")
		}
		if r.Summary != "" {
			fmt.Fprintf(&sb, "\n  %s", r.Summary)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nUse install_skill with a slug and registry to install one.")

	return SilentResult(sb.String())
}
