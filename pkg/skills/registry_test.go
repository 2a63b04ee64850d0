package skills

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRegistryManagerLookup(t *testing.T) {
	m := NewRegistryManagerFromConfig(RegistryConfig{
		ClawHub: ClawHubConfig{Enabled: true},
	})

	if m.GetRegistry("clawhub") == nil {
		t.Fatal("clawhub registry should be configured")
	}
	if m.GetRegistry(" ClawHub ") == nil {
		t.Error("lookup should normalize name")
	}
	if m.GetRegistry("unknown") != nil {
		t.Error("unknown registry should return nil")
	}
}

func TestRegistryManagerDisabled(t *testing.T) {
	m := NewRegistryManagerFromConfig(RegistryConfig{})
	if len(m.ListRegistries()) != 0 {
		t.Errorf("registries = %v, want none", m.ListRegistries())
	}

	results, errs := m.SearchAll(context.Background(), "anything", 5)
	if len(results) != 0 || len(errs) != 0 {
		t.Errorf("search over no registries: results=%v errs=%v", results, errs)
	}
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractZip(t *testing.T) {
	target := t.TempDir()
	archive := buildZip(t, map[string]string{
		"SKILL.md":       "# My Skill",
		"scripts/run.sh": "#!/bin/sh\necho hi",
	})

	if err := extractZip(archive, target); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(target, "SKILL.md"))
	if err != nil || string(data) != "# My Skill" {
		t.Errorf("SKILL.md = %q, err %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(target, "scripts", "run.sh")); err != nil {
		t.Errorf("nested file missing: %v", err)
	}
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	target := t.TempDir()
	archive := buildZip(t, map[string]string{
		"../escape.txt": "evil",
	})

	if err := extractZip(archive, target); err == nil {
		t.Fatal("expected traversal entry to be rejected")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(target), "escape.txt")); err == nil {
		t.Error("traversal file was written outside target")
	}
}
