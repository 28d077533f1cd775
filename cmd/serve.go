package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve run triggers, datasets and metrics over HTTP",
		Long: `Starts the HTTP API. POST /v1/runs/{races|articles} triggers a run, GET /v1/datasets/{variant}
returns the persisted dataset and GET /v1/runs lists recorded runs when a database is configured.
The server drains in-flight requests on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Serve(cmd.Context())
		},
	}
}
