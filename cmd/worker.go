package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/martinemde/harness/runstore"
)

// workerCmd executes an already-registered run in this process. It exists
// for `run --detach`, which re-invokes the binary in worker mode; events
// still land in the run's JSONL log, so watchers see the same stream.
func workerCmd(opts *rootOptions) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Internal: execute a registered run",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := runstore.Open(opts.runsDir)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Get(runID)
			if err != nil {
				return err
			}
			return executeRun(store, run, os.Getenv(apiKeyEnv), nil)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id to execute")
	cmd.MarkFlagRequired("run")
	return cmd
}
