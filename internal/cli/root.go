// Package cli implements the insightpipe command tree.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"insightpipe/internal/app"
	"insightpipe/internal/config"
)

// globals carries the persistent flags and the application options every
// command builds its Application with.
type globals struct {
	configPath string
	appOptions []app.Option
}

func (g *globals) config() (*config.Config, error) {
	if g.configPath != "" {
		return config.LoadFile(g.configPath)
	}
	return config.Load()
}

func (g *globals) open() (*app.Application, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return app.New(cfg, g.appOptions...)
}

// NewRootCmd builds the command tree. opts are applied to every Application
// a command creates.
func NewRootCmd(version string, opts ...app.Option) *cobra.Command {
	g := &globals{appOptions: opts}

	root := &cobra.Command{
		Use:   "insightpipe",
		Short: "Dataset quality, analysis and model fine-tuning pipeline",
		Long: `insightpipe loads a tabular dataset, cleans and validates it, asks a
language model for an analysis, fine-tunes a checkpoint on the cleaned data
and exports a report.

Configuration is read from config.yaml, configs/config.yaml or the file
named by --config, then overridden by INSIGHT_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(newServeCmd(g))
	root.AddCommand(newRunCmd(g))
	root.AddCommand(newCleanCmd(g))
	root.AddCommand(newModelsCmd(g))
	return root
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
