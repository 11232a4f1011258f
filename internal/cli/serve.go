package cli

import (
	"github.com/spf13/cobra"
)

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the WebSocket feed and the scheduler",
		Example: `  insightpipe serve
  INSIGHT_SERVER_PORT=9090 insightpipe serve --config configs/prod.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			return a.Run()
		},
	}
}
