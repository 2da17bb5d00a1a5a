package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func rootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "dbworkerctl",
		Short:         "Coordinate out-of-process access to a single-writer SQLite database",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().String("registry-dir", "", "override the worker registry directory")
	_ = v.BindPFlag("registry_dir", cmd.PersistentFlags().Lookup("registry-dir"))

	cmd.AddCommand(serveCmd(v), statusCmd(v), stopCmd(v), execCmd(v))
	return cmd
}
