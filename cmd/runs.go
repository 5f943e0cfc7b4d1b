package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/martinemde/harness/agentloop"
	"github.com/martinemde/harness/runstore"
)

func runsCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := runstore.Open(opts.runsDir)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List()
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(runs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPROVIDER\tMODEL\tCREATED\tTASK")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Status, r.Provider, r.Model,
					r.CreatedAt.Format("2006-01-02 15:04"),
					agentloop.HeadChars(r.Task, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
