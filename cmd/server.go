package cmd

import (
	"github.com/spf13/cobra"

	"worker-preview/config"
	server2 "worker-preview/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server and consume video events",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}

func migrate(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update the derivatives table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, closeRepo, err := server2.NewRepository(ctx, config)
			if err != nil {
				return err
			}
			defer closeRepo()
			return repo.Migrate(ctx)
		},
	}
}
