package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/shopsync/internal/config"
)

// RootOptions holds the command line flags.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	Verbose    bool
	Simulate   bool
}

// NewRootCommand creates the shopsync command. It has no subcommands; running
// it starts the agent until SIGINT or SIGTERM.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "shopsync",
		Short: "shopsync - shop billing reconciliation agent",
		Long: `Reconcile paid cloud orders with the shop's billing terminal.

The agent polls the cloud for paid orders, drops an import file for each one
into the directory shared with the billing terminal, waits for the terminal's
BILLED confirmation and reports the invoice back to the cloud. Progress is
kept in a local SQLite database so nothing is lost across restarts.

Configuration is read from shopsync.yaml, then .env, then the environment.

Example:
  shopsync
  shopsync --config /etc/shopsync.yaml --env-file /etc/shopsync.env
  shopsync --simulate --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", config.DefaultConfigFile, "path to YAML config file")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", config.DefaultEnvFile, "path to dotenv file (empty to skip)")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level")
	cmd.Flags().BoolVar(&opts.Simulate, "simulate", false, "run the billing terminal simulator")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	return cmd
}

// Execute runs the command with args and returns the process exit code.
// Errors are printed to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return GetExitCode(err)
}
