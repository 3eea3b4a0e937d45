package main

import (
	"strings"
	"testing"
)

func TestModelsListBuiltinCatalog(t *testing.T) {
	out, err := execRoot(t, "models", "list")
	if err != nil {
		t.Fatalf("models list: %v", err)
	}
	for _, want := range []string{"claude-sonnet-4-20250514", "gpt-4o", "gemini-2.0-flash"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}
}

func TestModelsListProviderFilter(t *testing.T) {
	out, err := execRoot(t, "models", "list", "--provider", "openai")
	if err != nil {
		t.Fatalf("models list: %v", err)
	}
	if !strings.Contains(out, "gpt-4o") {
		t.Fatalf("filtered list missing gpt-4o:\n%s", out)
	}
	if strings.Contains(out, "claude-sonnet-4-20250514") {
		t.Fatalf("filter leaked other providers:\n%s", out)
	}
}

func TestModelsRefreshWithoutProviders(t *testing.T) {
	clearProviderEnv(t)
	cfgPath, _ := writeTestConfig(t)

	_, err := execRoot(t, "models", "refresh", "--config", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "no providers configured") {
		t.Fatalf("expected no-providers error, got %v", err)
	}
}

func TestToolsList(t *testing.T) {
	out, err := execRoot(t, "tools", "list")
	if err != nil {
		t.Fatalf("tools list: %v", err)
	}
	for _, want := range []string{"echo", "calc", "clock"} {
		if !strings.Contains(out, want) {
			t.Errorf("tools list missing %q:\n%s", want, out)
		}
	}
}

func TestFmtTokens(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "-"},
		{512, "512"},
		{128000, "128k"},
		{200000, "200k"},
		{1000000, "1m"},
		{2000000, "2m"},
	}
	for _, tt := range tests {
		if got := fmtTokens(tt.in); got != tt.want {
			t.Errorf("fmtTokens(%d): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
