package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// Blank out any ambient overrides so defaults are observable.
	for _, key := range []string{"RESEARCH_CONFIG", "PORT", "DB_PATH", "GEMINI_API_KEY", "GEMINI_MODEL", "NOTION_API_KEY", "NOTION_DATABASE_ID"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Server.Port != 3000 {
		t.Fatalf("default port %d, want 3000", cfg.Server.Port)
	}
	if cfg.Gemini.Model != "gemini-1.5-pro" {
		t.Fatalf("default model %q", cfg.Gemini.Model)
	}
	if cfg.Limiter.MaxAttempts != 3 {
		t.Fatalf("default max attempts %d, want 3", cfg.Limiter.MaxAttempts)
	}
	if cfg.Pipeline.StepTimeoutSeconds != 180 {
		t.Fatalf("default step timeout %d, want 180", cfg.Pipeline.StepTimeoutSeconds)
	}
	if cfg.Notion.Properties.Title != "Name" || cfg.Notion.Properties.Status != "Status" {
		t.Fatalf("default bindings: %+v", cfg.Notion.Properties)
	}
	if cfg.Store.Path != "research.db" {
		t.Fatalf("default store path %q", cfg.Store.Path)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DB_PATH", "/tmp/other.db")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("GEMINI_MODEL", "gemini-1.5-flash")
	t.Setenv("NOTION_API_KEY", "n-key")
	t.Setenv("NOTION_DATABASE_ID", "db-42")

	cfg := Load()

	if cfg.Server.Port != 8080 {
		t.Fatalf("port %d, want 8080", cfg.Server.Port)
	}
	if cfg.Store.Path != "/tmp/other.db" {
		t.Fatalf("store path %q", cfg.Store.Path)
	}
	if cfg.Gemini.APIKey != "g-key" || cfg.Gemini.Model != "gemini-1.5-flash" {
		t.Fatalf("gemini config: %+v", cfg.Gemini)
	}
	if cfg.Notion.APIKey != "n-key" || cfg.Notion.DatabaseID != "db-42" {
		t.Fatalf("notion config: %+v", cfg.Notion)
	}
}

func TestLoadInvalidPortIgnored(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	cfg := Load()
	if cfg.Server.Port != 3000 {
		t.Fatalf("invalid PORT must keep default, got %d", cfg.Server.Port)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9999
gemini:
  model: gemini-1.5-flash
notion:
  properties:
    business: Company
limiter:
  maxAttempts: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RESEARCH_CONFIG", path)

	cfg := Load()
	if cfg.Server.Port != 9999 {
		t.Fatalf("yaml port %d, want 9999", cfg.Server.Port)
	}
	if cfg.Gemini.Model != "gemini-1.5-flash" {
		t.Fatalf("yaml model %q", cfg.Gemini.Model)
	}
	if cfg.Notion.Properties.Business != "Company" {
		t.Fatalf("yaml binding %q, want Company", cfg.Notion.Properties.Business)
	}
	if cfg.Limiter.MaxAttempts != 5 {
		t.Fatalf("yaml max attempts %d, want 5", cfg.Limiter.MaxAttempts)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RESEARCH_CONFIG", path)
	t.Setenv("PORT", "7777")

	cfg := Load()
	if cfg.Server.Port != 7777 {
		t.Fatalf("env must win over yaml, got %d", cfg.Server.Port)
	}
}
