package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadGlobalConfigCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	cfg, err := m.LoadGlobalConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ActiveProject != "default_project" || cfg.DefaultModel != "gemini-1.5-pro-latest" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
}

func TestLoadGlobalConfigBackfillsMissingKeys(t *testing.T) {
	dir := t.TempDir()
	partial := `{"active_project": "westmarch"}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(partial), 0o644); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	cfg, err := NewManager(dir).LoadGlobalConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ActiveProject != "westmarch" {
		t.Fatalf("explicit key lost: %+v", cfg)
	}
	if cfg.DefaultModel != "gemini-1.5-pro-latest" || cfg.GenerationTemperature != 0.7 {
		t.Fatalf("missing keys not backfilled: %+v", cfg)
	}
}

func TestLoadGlobalConfigMalformedDegradesToDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	cfg, err := NewManager(dir).LoadGlobalConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ActiveProject != "default_project" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestSettingsLifecycle(t *testing.T) {
	m := NewManager(t.TempDir())

	settings, err := m.LoadSettings("westmarch")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.DisplayName != "westmarch" {
		t.Fatalf("display name = %q", settings.DisplayName)
	}
	if settings.Model != "gemini-1.5-pro-latest" {
		t.Fatalf("new project should inherit the global default model, got %q", settings.Model)
	}

	settings.MainSystemPrompt = "You narrate a grim western campaign."
	settings.Model = "gemini-1.5-flash-latest"
	if err := m.SaveSettings("westmarch", settings); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := m.LoadSettings("westmarch")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded != settings {
		t.Fatalf("reloaded = %+v, want %+v", reloaded, settings)
	}
}

func TestSettingsWireShape(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	if _, err := m.LoadSettings("westmarch"); err != nil {
		t.Fatalf("load: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "westmarch", "project_settings.json"))
	if err != nil {
		t.Fatalf("read settings file: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"project_display_name", "main_system_prompt", "model", "ai_edit_model_name"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("settings file missing %q: %v", key, doc)
		}
	}
}

func TestListCreateDelete(t *testing.T) {
	m := NewManager(t.TempDir())

	if _, err := m.Create("beta"); err != nil {
		t.Fatalf("create beta: %v", err)
	}
	if _, err := m.Create("alpha"); err != nil {
		t.Fatalf("create alpha: %v", err)
	}

	projects, err := m.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(projects) != 2 || projects[0] != "alpha" || projects[1] != "beta" {
		t.Fatalf("projects = %v", projects)
	}

	deleted, err := m.Delete("alpha")
	if err != nil || !deleted {
		t.Fatalf("delete alpha: deleted=%v err=%v", deleted, err)
	}
	deleted, err = m.Delete("alpha")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Fatalf("deleting a missing project should report false")
	}

	projects, err = m.List()
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(projects) != 1 || projects[0] != "beta" {
		t.Fatalf("projects = %v", projects)
	}
}

func TestValidateID(t *testing.T) {
	for _, bad := range []string{"", "  ", "..", "../up", "a/b", `a\b`, ".hidden"} {
		if err := ValidateID(bad); err == nil {
			t.Fatalf("project id %q should be rejected", bad)
		}
	}
	if err := ValidateID("westmarch"); err != nil {
		t.Fatalf("valid id rejected: %v", err)
	}
}
