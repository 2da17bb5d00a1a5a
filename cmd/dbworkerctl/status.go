package main

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/code-analysis/dbworker/internal/config"
	"github.com/code-analysis/dbworker/internal/registry"
	"github.com/code-analysis/dbworker/internal/wire"
)

func statusCmd(v *viper.Viper) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <db_path>",
		Short: "Report whether a worker is running for db_path and its counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			reg := registry.New(cfg.RegistryDir)

			entry, err := reg.Lookup(args[0])
			if err != nil {
				return err
			}
			if entry == nil || !registry.IsAlive(entry.PID) {
				if asJSON {
					fmt.Fprintln(cmd.OutOrStdout(), `{"running":false}`)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "no worker is running for this database")
				}
				return nil
			}

			conn, err := net.DialTimeout("unix", entry.SocketPath, 5*time.Second)
			if err != nil {
				return fmt.Errorf("dial worker: %w", err)
			}
			defer conn.Close()

			if err := wire.WriteFrame(conn, wire.StatusRequest{Command: "status"}); err != nil {
				return fmt.Errorf("send status request: %w", err)
			}
			var resp wire.Response
			if err := wire.ReadFrame(conn, &resp); err != nil {
				return fmt.Errorf("read status response: %w", err)
			}

			if asJSON {
				out, err := json.Marshal(resp)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "running: true\npid: %d\ndb_path: %s\npending_jobs: %d\nopen_transactions: %d\nuptime_seconds: %.1f\nworker_version: %s\n",
				entry.PID, resp.DBPath, resp.PendingJobs, resp.OpenTxns, resp.UptimeSeconds, resp.WorkerVersion)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status response as JSON")
	return cmd
}
