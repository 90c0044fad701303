// Package main provides the CLI entry point for Magpie, an agentic
// command-line assistant.
//
// Magpie drives a conversational loop against a Gemini-style model API:
// the model proposes tool calls, Magpie schedules and executes them under a
// permission policy, and the results feed the next model turn.
//
// # Basic Usage
//
// Ask a question:
//
//	magpie ask "how many Go files are in this repo?"
//
// Run with every permissioned call confirmed interactively:
//
//	magpie ask --safe "clean up the build artifacts"
//
// Inspect stored transcripts:
//
//	magpie sessions list
//	magpie sessions show <name>
//
// # Environment Variables
//
//   - MAGPIE_API_KEY: bearer token for the model API
//   - MAGPIE_BASE_URL: model endpoint root (default: the public Gemini API)
//   - MAGPIE_PROJECT: project id; switches to the code-assist endpoint
//   - MAGPIE_MODEL: model name (default: gemini-2.5-pro)
//   - MAGPIE_HOME: state directory (default: ~/.magpie)
//   - MAGPIE_OTLP_ENDPOINT: OTLP collector for traces; empty disables tracing
package main

import (
	"fmt"
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
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "magpie",
		Short: "Magpie - agentic command-line assistant",
		Long: `Magpie answers questions and performs tasks by driving a model
through a tool-use loop: listing and reading files, writing files, and
running shell commands, all gated by a permission policy.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildAskCmd(),
		buildSessionsCmd(),
		buildPermissionsCmd(),
	)
	return rootCmd
}
