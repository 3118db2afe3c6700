package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "wpmirror",
		Short:         "Incremental software-update mirror",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "config.yml", "Configuration file path")

	rootCmd.AddCommand(newSyncCommand(&configFlag))
	rootCmd.AddCommand(newSummaryCommand(&configFlag))
	rootCmd.AddCommand(newSyncedCommand(&configFlag))

	return rootCmd
}
