// Package main provides the CLI entry point for the nexus-core agent runtime.
//
// nexus-core exercises the agentic loop directly against a configured LLM
// provider, with a single sandboxed bash tool wired in through the job
// registry. It is intentionally thin: the interesting behavior lives in
// internal/agent, internal/bashtool, and internal/jobs, not here.
//
// # Basic Usage
//
// Run a single prompt against the loop:
//
//	nexus-core run "list the files in the current directory"
//
// Replay a previously recorded JSONL trace:
//
//	nexus-core replay run.jsonl
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: selects the Anthropic provider when set
//   - OPENAI_API_KEY: selects the OpenAI provider when ANTHROPIC_API_KEY is unset
package main

import (
	"fmt"
	"log/slog"
	"os"

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

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
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
		Use:   "nexus-core",
		Short: "nexus-core - agent loop runtime",
		Long: `nexus-core runs the agentic loop directly against a configured LLM
provider, with a sandboxed bash tool and job registry wired in.

Supported LLM providers: Anthropic (Claude), OpenAI (GPT)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildReplayCmd(),
	)

	return rootCmd
}
