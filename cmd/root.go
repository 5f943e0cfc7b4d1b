// Package cmd implements the harness command line: starting and watching
// runs, serving the local HTTP API, and managing the run registry, model
// catalog and SSH deploy key.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	runsDir string
	dataDir string
}

func (o *rootOptions) sshKeyPath() string {
	return filepath.Join(o.dataDir, "ssh", "id")
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "harness",
		Short:         "Autonomous coding agent harness",
		Long:          "harness drives an autonomous coding agent: it sends a task to a language model, executes the single shell action the model proposes each turn, and feeds the output back until the task is done.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.runsDir, "runs-dir", "runs", "directory for the run registry and per-run state")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "data", "directory for service state (SSH deploy key)")

	cmd.AddCommand(
		runCmd(opts),
		workerCmd(opts),
		serveCmd(opts),
		runsCmd(opts),
		watchCmd(opts),
		modelsCmd(),
		keyCmd(opts),
	)
	return cmd
}

// Execute runs the root command. It exits non-zero on error; run
// interruption exits 130 like an interrupted shell command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		var exit exitError
		if ok := asExitError(err, &exit); ok {
			if exit.message != "" {
				fmt.Fprintln(os.Stderr, exit.message)
			}
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// exitError requests a specific process exit code from Execute.
type exitError struct {
	code    int
	message string
}

func (e exitError) Error() string { return e.message }

func asExitError(err error, into *exitError) bool {
	e, ok := err.(exitError)
	if ok {
		*into = e
	}
	return ok
}
