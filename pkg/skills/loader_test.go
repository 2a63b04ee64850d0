package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSkill(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSkillsLoaderListAndShadowing(t *testing.T) {
	workspace := t.TempDir()
	global := t.TempDir()

	writeSkill(t, filepath.Join(workspace, "skills"), "github", "---\ndescription: workspace copy\n---\n# GitHub")
	writeSkill(t, global, "github", "---\ndescription: global copy\n---\n# GitHub")
	writeSkill(t, global, "docker", "# Docker\n\nManage containers.")

	loader := NewSkillsLoader(workspace, global, "")
	skills := loader.ListSkills()

	if len(skills) != 2 {
		t.Fatalf("got %d skills, want 2", len(skills))
	}
	for _, s := range skills {
		if s.Name == "github" && s.Description != "workspace copy" {
			t.Errorf("workspace skill should shadow global, got description %q", s.Description)
		}
		if s.Name == "docker" && s.Description != "Manage containers." {
			t.Errorf("docker description = %q", s.Description)
		}
	}
}

func TestSkillsLoaderSummaryAndContext(t *testing.T) {
	workspace := t.TempDir()
	writeSkill(t, filepath.Join(workspace, "skills"), "deploy", "---\ndescription: ship it\n---\n# Deploy\n\nSteps here.")

	loader := NewSkillsLoader(workspace, "", "")

	summary := loader.BuildSkillsSummary()
	if !strings.Contains(summary, "**deploy**: ship it") {
		t.Errorf("summary = %q", summary)
	}

	full := loader.LoadSkillsForContext([]string{"deploy"})
	if !strings.Contains(full, "Steps here.") {
		t.Errorf("full context missing skill body: %q", full)
	}
	if loader.LoadSkillsForContext([]string{"missing"}) != "" {
		t.Error("unknown skill should load nothing")
	}
}

func TestSkillsLoaderEmpty(t *testing.T) {
	loader := NewSkillsLoader(t.TempDir(), "", "")
	if got := loader.BuildSkillsSummary(); got != "" {
		t.Errorf("summary for empty workspace = %q", got)
	}
}

func TestSearchCacheExpiry(t *testing.T) {
	cache := NewSearchCache(4, 30*time.Millisecond)
	cache.Set("q1", []SkillSearchResult{{Slug: "github"}})

	if got, ok := cache.Get("q1"); !ok || len(got) != 1 || got[0].Slug != "github" {
		t.Fatalf("cache miss immediately after set: %v %v", got, ok)
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok := cache.Get("q1"); ok {
		t.Error("entry should have expired")
	}
}

func TestSearchCacheEviction(t *testing.T) {
	cache := NewSearchCache(2, time.Minute)
	cache.Set("a", nil)
	cache.Set("b", nil)
	cache.Set("c", nil)

	if len(cache.entries) > 2 {
		t.Errorf("cache grew past maxSize: %d entries", len(cache.entries))
	}
}
