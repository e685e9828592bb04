// ledgersync keeps a local business database reconciled with its
// remote store: a durable operation queue, a dispatch loop with retry
// and circuit breaking, and conflict resolution for multi-device
// divergence.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kedarsarang7-eng/ledgersync/internal/config"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/engine"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/op"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/remote"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/store"
)

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ledgersync",
	Short: "Offline-first sync for local business data",
	Long: `ledgersync queues local mutations durably in SQLite and pushes them
to the remote store when connectivity allows, pulling remote changes
back down and surfacing conflicts for resolution.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ledgersync.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(deadletterCmd)
	rootCmd.AddCommand(conflictsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openQueue opens the local queue database and ensures its schema.
func openQueue(cmd *cobra.Command) (*store.Store, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	if err := st.InitSchema(cmd.Context()); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// buildEngine wires the engine over the queue and the configured
// remote endpoint.
func buildEngine(st *store.Store) (*engine.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rem, err := remote.NewHTTPStore(remote.HTTPConfig{
		BaseURL:        cfg.Remote.BaseURL,
		Token:          func(context.Context) (string, error) { return cfg.Remote.Token, nil },
		RequestTimeout: cfg.Remote.Timeout,
	})
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{engine.WithLogOutput(os.Stderr)}
	if cfg.SchemaFile != "" {
		reg := op.DefaultRegistry()
		if err := reg.LoadSchemas(cfg.SchemaFile); err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithSchemas(reg))
	}

	return engine.New(engine.Config{
		Owner:         cfg.Owner,
		Device:        cfg.Device,
		Workers:       cfg.Engine.Workers,
		BatchSize:     cfg.Engine.BatchSize,
		Interval:      cfg.Engine.Interval,
		SweepInterval: cfg.Engine.SweepInterval,
		Retry:         cfg.RetryPolicy(),
		Breaker:       cfg.BreakerConfig(),
	}, st, rem, opts...), nil
}
