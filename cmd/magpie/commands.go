// commands.go contains the cobra command definitions and their flag
// configurations. Each builder wires a command to its handler.
package main

import (
	"github.com/spf13/cobra"

	"github.com/magpie-ai/magpie/internal/config"
)

// askOptions carries the resolved flags of one ask invocation.
type askOptions struct {
	configPath string
	model      string
	mode       string
	safe       bool
	verbose    bool
	session    string
	debug      bool
}

func buildAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Run one agent query",
		Long: `Send a prompt to the model and execute the tool calls it proposes.

Messages stream to stdout as they are produced: assistant text, tool
invocations, and their results. Permissioned tool calls prompt for
confirmation when running on a terminal; otherwise they are denied.`,
		Example: `  # Plain question
  magpie ask "summarise cmd/magpie/main.go"

  # Confirm every permissioned call
  magpie ask --safe "delete the generated files"

  # Restrict the model to read-only tools
  magpie ask --mode restricted "map out the package structure"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath(), "Path to YAML settings file")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Model name (overrides MAGPIE_MODEL)")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Permission mode: default, safe, bypass, restricted")
	cmd.Flags().BoolVar(&opts.safe, "safe", false, "Ask before every permissioned tool call")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Widen tool-use renderings and show progress")
	cmd.Flags().StringVar(&opts.session, "session", "", "Transcript log name (default: a generated id)")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func buildSessionsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored transcripts",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Path to YAML settings file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List transcript logs, newest first",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSessionsList(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "show <name>",
			Short: "Print one transcript log",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSessionsShow(cmd.Context(), configPath, args[0])
			},
		},
	)
	return cmd
}

func buildPermissionsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Manage the project permission allow-list",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Path to YAML settings file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print granted permission keys",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPermissionsList(configPath)
			},
		},
		&cobra.Command{
			Use:   "grant <key>",
			Short: "Add a permission key, e.g. 'Bash(git:*)'",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPermissionsGrant(configPath, args[0])
			},
		},
	)
	return cmd
}
