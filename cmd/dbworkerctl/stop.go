package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/code-analysis/dbworker/internal/config"
	"github.com/code-analysis/dbworker/internal/registry"
	"github.com/code-analysis/dbworker/internal/wlog"
	"github.com/code-analysis/dbworker/internal/workermanager"
)

func stopCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <db_path>",
		Short: "Stop the worker process for db_path, if one is running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			reg := registry.New(cfg.RegistryDir)
			mgr := workermanager.New(reg, workermanager.Options{LogDir: cfg.LogDir}, wlog.Default())

			if err := mgr.Stop(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped worker for %s\n", args[0])
			return nil
		},
	}
	return cmd
}
