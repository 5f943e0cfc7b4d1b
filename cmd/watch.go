package cmd

import (
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/harness/agentloop"
	"github.com/martinemde/harness/runstore"
)

func watchCmd(opts *rootOptions) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Replay and follow a run's event stream",
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
			return tailEvents(run.EventsPath(), NewConsolePrinter())
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id to watch")
	cmd.MarkFlagRequired("run")
	return cmd
}

// tailEvents replays the event log from the start, then polls for new
// lines every 250ms until a completed event arrives or the watcher is
// interrupted.
func tailEvents(path string, printer *ConsolePrinter) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	var pos int64
	for {
		records, next, err := runstore.ReadEvents(path, pos, 0)
		if err != nil {
			return err
		}
		pos = next
		for _, rec := range records {
			event := rec.Event()
			printer.Emit(event)
			if event.Kind == agentloop.EventCompleted {
				return nil
			}
		}
		select {
		case <-sigCh:
			return exitError{code: 130}
		case <-time.After(250 * time.Millisecond):
		}
	}
}
