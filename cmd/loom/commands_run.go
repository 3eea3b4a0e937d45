package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Run Commands
// =============================================================================

// buildRunCmd creates the "run" command: one agent execution, start to
// finish.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		model      string
		maxTurns   int
		streamOut  bool
		resumeID   string
	)

	cmd := &cobra.Command{
		Use:   "run [agent-id] [message...]",
		Short: "Execute an agent with a message",
		Long: `Run an agent to completion with the given message.

The agent resolves its model through the registry, executes tool calls
under its allowlist, and persists the full trace. With --continue the
message is appended to an existing run's conversation instead of starting
a new one.`,
		Example: `  # Run an agent
  loom run researcher "What changed in Go 1.23?"

  # Stream output as it is generated
  loom run researcher "Summarize this repo" --stream

  # Override the model for one run
  loom run researcher "Quick check" --model anthropic/claude-3-5-haiku-20241022

  # Continue a finished run
  loom run --continue 4f8a21f3-... "And what about the tooling?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runRun(cmd, configPath, model, maxTurns, streamOut, resumeID, args)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to config file")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model override (provider/id or bare id)")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Max reasoning turns for this run")
	cmd.Flags().BoolVar(&streamOut, "stream", false, "Stream output incrementally")
	cmd.Flags().StringVar(&resumeID, "continue", "", "Continue an existing run by id")

	return cmd
}

// buildChatCmd creates the "chat" command: an interactive session that keeps
// one run's conversation going across messages.
func buildChatCmd() *cobra.Command {
	var (
		configPath string
		model      string
	)

	cmd := &cobra.Command{
		Use:   "chat [agent-id]",
		Short: "Chat interactively with an agent",
		Long: `Start an interactive chat session with an agent.

The first message starts a run; every following message continues it, so
the whole session lands in a single trace. Type /quit or /exit to leave.`,
		Example: `  # Chat with the default assistant
  loom chat assistant

  # Chat on a specific model
  loom chat assistant --model openai/gpt-4o-mini`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runChat(cmd, configPath, args[0], model)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to config file")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model override (provider/id or bare id)")

	return cmd
}
