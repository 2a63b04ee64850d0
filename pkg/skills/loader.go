// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package skills

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SkillInfo describes one installed skill, parsed from its SKILL.md.
type SkillInfo struct {
	Name        string
	Description string
	Path        string
}

// SkillsLoader discovers skills across three roots, in priority order:
// workspace skills shadow global skills, which shadow builtin skills.
type SkillsLoader struct {
	dirs []string
}

func NewSkillsLoader(workspace, globalDir, builtinDir string) *SkillsLoader {
	dirs := []string{}
	if workspace != "" {
		dirs = append(dirs, filepath.Join(workspace, "skills"))
	}
	if globalDir != "" {
		dirs = append(dirs, globalDir)
	}
	if builtinDir != "" {
		dirs = append(dirs, builtinDir)
	}
	return &SkillsLoader{dirs: dirs}
}

// ListSkills returns every discoverable skill, deduplicated by name with
// earlier roots winning.
func (l *SkillsLoader) ListSkills() []SkillInfo {
	seen := make(map[string]bool)
	var out []SkillInfo

	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || seen[e.Name()] {
				continue
			}
			skillPath := filepath.Join(dir, e.Name(), "SKILL.md")
			if _, err := os.Stat(skillPath); err != nil {
				continue
			}
			seen[e.Name()] = true
			out = append(out, SkillInfo{
				Name:        e.Name(),
				Description: readSkillDescription(skillPath),
				Path:        skillPath,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuildSkillsSummary renders a one-line-per-skill overview for the system
// prompt. Empty when no skills are installed.
func (l *SkillsLoader) BuildSkillsSummary() string {
	skills := l.ListSkills()
	if len(skills) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, s := range skills {
		sb.WriteString("- **")
		sb.WriteString(s.Name)
		sb.WriteString("**")
		if s.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(s.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// LoadSkillsForContext reads the full SKILL.md bodies for the named
// skills, concatenated with headers. Used when an agent's config pins a
// skill set rather than just summarizing.
func (l *SkillsLoader) LoadSkillsForContext(names []string) string {
	if len(names) == 0 {
		return ""
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var sb strings.Builder
	for _, s := range l.ListSkills() {
		if !wanted[s.Name] {
			continue
		}
		data, err := os.ReadFile(s.Path)
		if err != nil {
			continue
		}
		sb.WriteString("## Skill: ")
		sb.WriteString(s.Name)
		sb.WriteString("\n\n")
		sb.Write(data)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// readSkillDescription extracts a short description from a SKILL.md:
// a frontmatter "description:" line if present, else the first
// non-heading paragraph line.
func readSkillDescription(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	lines := strings.Split(string(data), "\n")
	inFrontmatter := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if i == 0 && trimmed == "---" {
			inFrontmatter = true
			continue
		}
		if inFrontmatter {
			if trimmed == "---" {
				inFrontmatter = false
				continue
			}
			if strings.HasPrefix(trimmed, "description:") {
				return strings.TrimSpace(strings.TrimPrefix(trimmed, "description:"))
			}
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if len(trimmed) > 160 {
			trimmed = trimmed[:160] + "..."
		}
		return trimmed
	}
	return ""
}
