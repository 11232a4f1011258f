package cli

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"insightpipe/internal/app"
)

func newModelsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"model"},
		Short:   "Inspect and manage fine-tuned checkpoints",
	}
	cmd.AddCommand(newModelsListCmd(g))
	cmd.AddCommand(newModelsRollbackCmd(g))
	cmd.AddCommand(newModelsPruneCmd(g))
	cmd.AddCommand(newModelsCompareCmd(g))
	return cmd
}

// withApp opens the application for the duration of fn.
func withApp(g *globals, fn func(a *app.Application) error) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(a)
}

func newModelsListCmd(g *globals) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List checkpoints, oldest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, func(a *app.Application) error {
				versions, err := a.Registry.Versions()
				if err != nil {
					return err
				}
				current, err := a.Registry.Current()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return writeJSON(out, map[string]interface{}{"current": current, "versions": versions})
				}
				if len(versions) == 0 {
					fmt.Fprintln(out, "No checkpoints saved yet.")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "\tNAME\tCREATED\tPARENT\tMETRICS")
				for _, v := range versions {
					marker := ""
					if v.Name == current {
						marker = "*"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, v.Name,
						v.CreatedAt.Local().Format(time.DateTime), v.Parent, formatMetrics(v.Metrics))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "output as JSON")
	return cmd
}

func newModelsRollbackCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Make the previous checkpoint current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, func(a *app.Application) error {
				cp, err := a.Registry.Rollback(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back to %s\n", cp.Version.Name)
				return nil
			})
		},
	}
}

func newModelsPruneCmd(g *globals) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete all but the newest checkpoints",
		Example: `  insightpipe models prune --keep 3`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, func(a *app.Application) error {
				if !cmd.Flags().Changed("keep") {
					keep = a.Config.Model.KeepLast
				}
				removed, err := a.Registry.DeleteOld(cmd.Context(), keep)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(removed) == 0 {
					fmt.Fprintln(out, "Nothing to prune.")
					return nil
				}
				for _, name := range removed {
					fmt.Fprintf(out, "Removed %s\n", name)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&keep, "keep", "k", 0, "number of newest checkpoints to keep (default from model.keep_last)")
	return cmd
}

func newModelsCompareCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "compare <older> <newer>",
		Short:   "Show the metric deltas between two checkpoints",
		Example: `  insightpipe models compare fine_tuned_20240101_120000 fine_tuned_20240102_120000`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, func(a *app.Application) error {
				deltas, err := a.Registry.Compare(args[0], args[1])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(deltas) == 0 {
					fmt.Fprintln(out, "No metrics recorded on "+args[1]+".")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "METRIC\tDELTA")
				for _, name := range sortedKeys(deltas) {
					fmt.Fprintf(tw, "%s\t%+.4f\n", name, deltas[name])
				}
				return tw.Flush()
			})
		},
	}
}

func formatMetrics(m map[string]float64) string {
	s := ""
	for i, name := range sortedKeys(m) {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%.4f", name, m[name])
	}
	return s
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
