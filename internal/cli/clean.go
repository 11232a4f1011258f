package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"insightpipe/internal/operations"
)

func newCleanCmd(g *globals) *cobra.Command {
	var output string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "clean <file|dir>",
		Short: "Clean and validate a dataset without analysis or training",
		Example: `  insightpipe clean data/sales.csv
  insightpipe clean data/sales.csv --output sales_clean.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			res, err := a.Controller.Delegate(cmd.Context(), operations.CleanTask{Source: args[0], OutputName: output})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cleaned dataset written to %s\n", res.Path)
			if res.Summary != nil {
				fmt.Fprintf(out, "  Rows: %d\n", res.Summary.Rows)
				for _, c := range res.Summary.Columns {
					fmt.Fprintf(out, "  %-24s %-8s nulls=%d\n", c.Name, c.Kind, c.Nulls)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file name under the processed directory")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "print the task result as JSON")
	return cmd
}
