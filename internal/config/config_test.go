package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
engine:
  max_turns: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.MaxTurns != 5 {
		t.Errorf("MaxTurns = %d, want 5", cfg.Engine.MaxTurns)
	}
	if cfg.Engine.ToolTimeout != 30*time.Second {
		t.Errorf("ToolTimeout = %v, want 30s", cfg.Engine.ToolTimeout)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Database.DSN != "loom.db" {
		t.Errorf("DSN = %q, want loom.db", cfg.Database.DSN)
	}
	if cfg.Providers.Default != "anthropic" {
		t.Errorf("Providers.Default = %q, want anthropic", cfg.Providers.Default)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json", cfg.Logging)
	}
	if cfg.Tracing.SamplingRate != 1.0 {
		t.Errorf("SamplingRate = %v, want 1.0", cfg.Tracing.SamplingRate)
	}
}

func TestDefaultMatchesEmptyFile(t *testing.T) {
	cfg := Default()
	if cfg.Engine.MaxTurns != 10 {
		t.Errorf("MaxTurns = %d, want 10", cfg.Engine.MaxTurns)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
engine:
  max_turns: 5
  extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("LOOM_TEST_KEY", "sk-test-123")
	path := writeConfig(t, `
providers:
  anthropic:
    enabled: true
    api_key: ${LOOM_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test-123" {
		t.Errorf("APIKey = %q, want sk-test-123", cfg.Providers.Anthropic.APIKey)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "loom.yaml")
	extra := filepath.Join(dir, "providers.yaml")

	writeFile(t, extra, `
providers:
  default: openai
  openai:
    enabled: true
`)
	writeFile(t, base, `
include:
  - providers.yaml
engine:
  max_turns: 3
`)

	cfg, err := Load(base)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.Default != "openai" {
		t.Errorf("Providers.Default = %q, want openai", cfg.Providers.Default)
	}
	if !cfg.Providers.OpenAI.Enabled {
		t.Errorf("OpenAI.Enabled = false, want true")
	}
	if cfg.Engine.MaxTurns != 3 {
		t.Errorf("MaxTurns = %d, want 3", cfg.Engine.MaxTurns)
	}
}

func TestLoadDetectsIncludeCycles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")

	writeFile(t, a, `
include:
  - b.yaml
`)
	writeFile(t, b, `
include:
  - a.yaml
`)

	_, err := Load(a)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadParsesJSON5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.json5")
	writeFile(t, path, `
{
  // comments are fine in json5
  engine: {max_turns: 7},
  database: {driver: "postgres", dsn: "postgres://localhost/loom"},
}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.MaxTurns != 7 {
		t.Errorf("MaxTurns = %d, want 7", cfg.Engine.MaxTurns)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Driver = %q, want postgres", cfg.Database.Driver)
	}
}

func TestLoadValidatesDriver(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: mysql
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "driver") {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestLoadValidatesSamplingRate(t *testing.T) {
	path := writeConfig(t, `
tracing:
  sampling_rate: 2.5
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "sampling_rate") {
		t.Fatalf("expected sampling_rate error, got %v", err)
	}
}

func TestValidateRejectsNegativeTurns(t *testing.T) {
	cfg := Default()
	cfg.Engine.MaxTurns = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	writeFile(t, path, contents)
	return path
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}
