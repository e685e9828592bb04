package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kedarsarang7-eng/ledgersync/internal/sync/daemon"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/dashboard"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Run the full sync daemon:
  1. Dispatches queued operations to the remote store
  2. Watches the outbox directory for new operation files
  3. Pulls remote changes periodically
  4. Serves the WebSocket dashboard (if enabled)

Stops cleanly on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, logCloser := cfg.NewLogger("[ledgersync] ")
		defer logCloser.Close()

		st, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		eng, err := buildEngine(st)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Outbox watcher
		outbox := daemon.NewDaemon(cfg.OutboxDir, eng)
		outbox.SetLogger(logger.Writer())

		// Dashboard
		if cfg.Dashboard.Enabled {
			srv := dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: logger,
			}, eng)
			if err := srv.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer func() {
				if err := srv.Stop(); err != nil {
					logger.Printf("dashboard stop: %v", err)
				}
			}()
			fmt.Printf("Dashboard listening on %s\n", srv.GetAddr())
		}

		errCh := make(chan error, 2)
		go func() { errCh <- eng.Run(ctx) }()
		go func() { errCh <- outbox.Run(ctx) }()

		// An initial pull picks up remote changes made while down.
		eng.TriggerPull()

		fmt.Printf("ledgersync running for %s (queue: %s, outbox: %s)\n",
			cfg.Owner, cfg.DBPath, cfg.OutboxDir)

		err = <-errCh
		stop()
		<-errCh

		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return err
		}
		fmt.Println("ledgersync stopped")
		return nil
	},
}
