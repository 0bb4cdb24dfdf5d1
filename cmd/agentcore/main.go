// Package main provides the CLI entry point for the agentcore runtime.
//
// agentcore drives an LLM-powered agent through iterative reasoning
// steps, executing tool calls inside per-project sandbox containers and
// streaming events to clients.
//
// # Basic Usage
//
// Start the server:
//
//	agentcore serve --config agentcore.yaml
//
// Run a single thread from the terminal:
//
//	agentcore run --thread t-1 --project p-1 "list files in /tmp"
//
// Manage database migrations:
//
//	agentcore migrate up
//	agentcore migrate status
//
// # Environment Variables
//
//   - AGENTCORE_CONFIG: Path to configuration file (default: agentcore.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - GOOGLE_API_KEY: Google AI API key for Gemini models
//   - SANDBOX_TYPE: Sandbox backend (local or managed)
//   - SANDBOX_IMAGE_NAME: Image started for new sandboxes
//   - DAYTONA_API_KEY: Managed sandbox service API key
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "agentcore",
		Short:         "Autonomous agent runtime",
		Long:          "agentcore runs an LLM-driven agent loop with sandboxed tool execution and a streaming event gateway.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("AGENTCORE_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "agentcore.yaml"
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "path to configuration file")

	root.AddCommand(
		newServeCmd(&configPath),
		newRunCmd(&configPath),
		newSandboxCmd(&configPath),
		newMigrateCmd(&configPath),
		newConfigCmd(),
	)
	return root
}
