package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "polylens",
		Short:         "Indexes Polymarket CTF Exchange trades and serves market/trader analytics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", defaultConfigPath(), "path to config YAML file")

	root.AddCommand(newIndexCmd())
	root.AddCommand(newDiscoverCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newStatsCmd())
	return root
}
