package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/code-analysis/dbworker/internal/config"
	"github.com/code-analysis/dbworker/internal/dbserver"
	"github.com/code-analysis/dbworker/internal/wlog"
)

// serveCmd is the worker entry point itself: the process workermanager.spawn
// execs, bound to exactly the (db_path, socket_path, log_path?) argv shape.
// The log path may also be given as --log; a positional one takes
// precedence.
func serveCmd(v *viper.Viper) *cobra.Command {
	var logPath string

	cmd := &cobra.Command{
		Use:   "serve <db_path> <socket_path> [log_path]",
		Short: "Run the worker process that owns one SQLite file",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if len(args) == 3 {
				logPath = args[2]
			}

			var out *os.File = os.Stderr
			if logPath != "" {
				f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer f.Close()
				out = f
			}
			log := wlog.New(out)

			srv := dbserver.New(dbserver.Config{
				DBPath:     args[0],
				SocketPath: args[1],
				JobTTL:     cfg.JobTTL,
				SweepEvery: cfg.SweepInterval,
				Log:        log,
			})

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			log.Info("serve.starting", wlog.Fields{"db_path": args[0], "socket_path": args[1], "pid": os.Getpid()})
			if err := srv.Run(ctx); err != nil {
				return fmt.Errorf("worker exited with error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "", "append structured logs to this file instead of stderr")
	return cmd
}
