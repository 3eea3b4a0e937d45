package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haasonsaas/loom/internal/agents"
)

// =============================================================================
// Agents Command Helpers
// =============================================================================

// withAgents opens the agent repository for inspection commands.
func withAgents(configPath string, fn func(repo agents.Repository) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	repo, err := openAgents(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(repo)
}

// printAgentsList prints the configured agents.
func printAgentsList(out io.Writer, configPath string) error {
	return withAgents(configPath, func(repo agents.Repository) error {
		defs := repo.List()

		fmt.Fprintln(out, "Agents")
		fmt.Fprintln(out, "======")
		fmt.Fprintln(out)

		if len(defs) == 0 {
			fmt.Fprintln(out, "No agents defined.")
			return nil
		}

		fmt.Fprintln(out, "ID            Name            Model                                    Tools")
		fmt.Fprintln(out, "------------  --------------  ---------------------------------------  -----")
		for _, def := range defs {
			model := def.Model
			if model == "" {
				model = "-"
			}
			fmt.Fprintf(out, "%-12s  %-14s  %-39s  %d\n",
				truncate(def.ID, 12), truncate(def.Name, 14), truncate(model, 39), len(def.Tools))
		}
		fmt.Fprintln(out)
		return nil
	})
}

// printAgentShow prints one agent's full definition.
func printAgentShow(out io.Writer, configPath, agentID string) error {
	return withAgents(configPath, func(repo agents.Repository) error {
		def, err := repo.Get(agentID)
		if errors.Is(err, agents.ErrNotFound) {
			return fmt.Errorf("agent not found: %s", agentID)
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Agent: %s\n", def.ID)
		fmt.Fprintln(out, "==========")
		if def.Name != "" {
			fmt.Fprintf(out, "Name: %s\n", def.Name)
		}
		if def.Description != "" {
			fmt.Fprintf(out, "Description: %s\n", def.Description)
		}
		fmt.Fprintf(out, "Model: %s\n", def.Model)
		if len(def.Tools) > 0 {
			fmt.Fprintf(out, "Tools: %s\n", strings.Join(def.Tools, ", "))
		} else {
			fmt.Fprintln(out, "Tools: (none, all tool calls denied)")
		}
		if len(def.Tags) > 0 {
			fmt.Fprintf(out, "Tags: %s\n", strings.Join(def.Tags, ", "))
		}
		if def.Generation.Temperature != nil {
			fmt.Fprintf(out, "Temperature: %.2f\n", *def.Generation.Temperature)
		}
		if def.Generation.MaxTokens > 0 {
			fmt.Fprintf(out, "Max tokens: %d\n", def.Generation.MaxTokens)
		}
		if def.MessageWindow > 0 {
			fmt.Fprintf(out, "Message window: %d\n", def.MessageWindow)
		}
		if def.StructuredMemory {
			fmt.Fprintln(out, "Structured memory: enabled")
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "System prompt:")
		fmt.Fprintln(out, indent(def.SystemPrompt, "  "))

		if len(def.PromptVersions) > 0 {
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Prompt versions: %d\n", len(def.PromptVersions))
			for _, pv := range def.PromptVersions {
				fmt.Fprintf(out, "  v%d  %s  %s\n",
					pv.Version, pv.CreatedAt.Format(time.RFC3339), truncate(pv.Prompt, 60))
			}
		}
		return nil
	})
}

// indent prefixes every line of s.
func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
