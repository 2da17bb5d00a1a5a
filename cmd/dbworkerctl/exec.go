package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/code-analysis/dbworker/internal/config"
	"github.com/code-analysis/dbworker/internal/dbapi"
	"github.com/code-analysis/dbworker/internal/dbproxy"
	"github.com/code-analysis/dbworker/internal/registry"
	"github.com/code-analysis/dbworker/internal/wlog"
	"github.com/code-analysis/dbworker/internal/workermanager"
)

// execCmd is a one-shot convenience command: start-or-attach a worker for
// db_path, run a single statement through it, and print the result. It
// exists for operators and scripts that want one SQL statement answered
// without writing a client program against the driver contract directly.
func execCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <db_path> <sql> [args...]",
		Short: "Run one SQL statement against db_path's worker and print the result",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			dbPath, sql, rest := args[0], args[1], args[2:]
			params := make([]any, len(rest))
			for i, a := range rest {
				params[i] = a
			}

			reg := registry.New(cfg.RegistryDir)
			mgr := workermanager.New(reg, workermanager.Options{LogDir: cfg.LogDir}, wlog.Default())
			driver := dbproxy.New(dbproxy.Config{
				Manager:      mgr,
				Registry:     reg,
				PollInterval: cfg.PollInterval,
				CallTimeout:  cfg.CallTimeout,
			})

			ctx := context.Background()
			if err := driver.Connect(ctx, dbPath); err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			cur := dbapi.NewConnection(driver).Cursor()
			if err := cur.Execute(ctx, sql, params); err != nil {
				return fmt.Errorf("execute: %w", err)
			}

			rows := cur.FetchAll()
			if rows == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "ok, lastrowid=%d\n", cur.LastRowID())
				return nil
			}
			out, err := json.MarshalIndent(rows, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	return cmd
}
