package cmd

import (
	"github.com/spf13/cobra"

	"worker-preview/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "worker-preview",
		Short: "preview and thumbnail worker",
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(migrate(config))
	rootCmd.AddCommand(status(config))
	return rootCmd
}
