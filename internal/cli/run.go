package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"insightpipe/internal/operations"
)

func newRunCmd(g *globals) *cobra.Command {
	var (
		jsonOutput bool
		charts     []string
	)

	cmd := &cobra.Command{
		Use:   "run <file|dir>",
		Short: "Run the full pipeline once and wait for it",
		Long: `Run load, clean, validate, analyze, fine-tune and report on a dataset.
A directory resolves to its newest dataset file.`,
		Example: `  insightpipe run data/sales.csv
  insightpipe run data/ --json
  insightpipe run data/sales.csv --chart plots/trend.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			run, err := a.Controller.Start(ctx, operations.RunRequest{Source: args[0], Charts: charts})
			if err != nil {
				return err
			}
			result, runErr := run.Wait(ctx)
			if result == nil {
				return runErr
			}
			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printRun(cmd, result)
			}
			return runErr
		},
	}
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "print the run record as JSON")
	cmd.Flags().StringSliceVar(&charts, "chart", nil, "chart image to embed in the report (repeatable)")
	return cmd
}

func printRun(cmd *cobra.Command, r *operations.RunResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s\n", r.ID, r.Status)
	fmt.Fprintf(out, "  Dataset:       %s\n", r.Dataset)
	fmt.Fprintf(out, "  Quality score: %.4f\n", r.QualityScore)
	if r.Version != "" {
		fmt.Fprintf(out, "  Checkpoint:    %s\n", r.Version)
	}
	for _, p := range r.ReportPaths {
		fmt.Fprintf(out, "  Report:        %s\n", p)
	}
	for _, f := range r.FailedFormats {
		fmt.Fprintf(out, "  Export failed: %s\n", f)
	}
	if r.FailedStage != "" {
		fmt.Fprintf(out, "  Failed stage:  %s\n", r.FailedStage)
	}
	fmt.Fprintf(out, "  Duration:      %s\n", r.Duration())
}
