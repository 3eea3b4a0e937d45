// Package main provides the CLI entry point for the Loom agent execution
// engine.
//
// Loom runs declarative agents against LLM providers (Anthropic, OpenAI,
// Azure, OpenRouter, Gemini, Bedrock, Ollama) with allowlisted tool
// execution, and persists every run as an inspectable trace.
//
// # Basic Usage
//
// Execute an agent once:
//
//	loom run assistant "summarize the open incidents"
//
// Chat interactively:
//
//	loom chat assistant
//
// Inspect traces:
//
//	loom runs list
//	loom runs show <run-id>
//
// # Environment Variables
//
// Configuration can be provided via environment variables (a .env file in
// the working directory is loaded first):
//
//   - LOOM_CONFIG: Path to configuration file (default: loom.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - OPENROUTER_API_KEY: OpenRouter API key
//   - GEMINI_API_KEY: Google AI API key for Gemini models
//   - OLLAMA_HOST: Base URL of a local Ollama server
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// defaultConfigName is the config file looked up in the working directory
// when neither --config nor LOOM_CONFIG names one.
const defaultConfigName = "loom.yaml"

func main() {
	// A .env in the working directory supplies provider keys before any
	// config interpolation happens. Missing files are fine.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Loom - Agent execution engine",
		Long: `Loom executes declarative agents against LLM providers with tool dispatch.

Agents are YAML definitions: a system prompt, a model, and a tool allowlist.
Every run persists an inspectable trace of turns, tool executions and cost.

Supported providers: Anthropic, OpenAI, Azure OpenAI, OpenRouter, Gemini, Bedrock, Ollama`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildChatCmd(),
		buildRunsCmd(),
		buildAgentsCmd(),
		buildModelsCmd(),
		buildToolsCmd(),
		buildServeMetricsCmd(),
	)

	return rootCmd
}

// resolveConfigPath applies the LOOM_CONFIG fallback to an unset --config
// flag.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" && path != defaultConfigName {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("LOOM_CONFIG")); env != "" {
		return env
	}
	if strings.TrimSpace(path) == "" {
		return defaultConfigName
	}
	return path
}
