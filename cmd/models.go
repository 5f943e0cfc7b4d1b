package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/martinemde/harness/llmclient"
)

func modelsCmd() *cobra.Command {
	var (
		provider   string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List known models from the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			models := llmclient.ListModels(provider)

			if jsonOutput {
				data, err := json.MarshalIndent(models, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tMODEL\tCONTEXT\tNAME")
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", m.Provider, m.ID, m.ContextWindow, m.DisplayName)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "filter by provider")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
