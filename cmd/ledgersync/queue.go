package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kedarsarang7-eng/ledgersync/internal/sync/op"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push queued operations now",
	Long: `Run dispatch cycles until the queue has no eligible work left.

Operations waiting on a future retry time or a paused document are left
in place; use 'ledgersync status' to see what remains.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		eng, err := buildEngine(st)
		if err != nil {
			return err
		}

		before, err := st.Stats(cmd.Context())
		if err != nil {
			return err
		}

		start := time.Now()
		// Cycles continue while they make progress; a cycle that syncs
		// nothing means the rest of the queue is waiting on time,
		// conflicts or the breaker.
		for {
			prev, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			eng.SyncOnce(cmd.Context())
			now, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if now.SyncedToday <= prev.SyncedToday {
				break
			}
		}

		after, err := st.Stats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("✓ Sync pass complete in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Synced:      %d\n", after.SyncedToday-before.SyncedToday)
		fmt.Printf("   Pending:     %d\n", after.Pending)
		fmt.Printf("   Retrying:    %d\n", after.Retry)
		fmt.Printf("   Dead letter: %d\n", after.DeadLetter)
		if n := len(eng.Conflicts()); n > 0 {
			fmt.Printf("   ⚠ %d conflict(s) need resolution ('ledgersync conflicts list')\n", n)
		}
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull remote changes since the last checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		eng, err := buildEngine(st)
		if err != nil {
			return err
		}

		if err := eng.Pull(cmd.Context()); err != nil {
			return err
		}

		cp, err := st.Checkpoint(cmd.Context(), cfg.Owner)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Pull complete, checkpoint at %s\n", cp.Format(time.RFC3339))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("\nQueue: %s\n", cfg.DBPath)
		fmt.Printf("   Pending:      %d\n", stats.Pending)
		fmt.Printf("   In progress:  %d\n", stats.InProgress)
		fmt.Printf("   Retrying:     %d\n", stats.Retry)
		fmt.Printf("   Failed:       %d\n", stats.Failed)
		fmt.Printf("   Dead letter:  %d\n", stats.DeadLetter)
		fmt.Printf("   Synced today: %d\n", stats.SyncedToday)

		if cfg.Owner != "" {
			cp, err := st.Checkpoint(cmd.Context(), cfg.Owner)
			if err == nil {
				if cp.IsZero() {
					fmt.Printf("   Last pull:    never\n")
				} else {
					fmt.Printf("   Last pull:    %s\n", cp.Format(time.RFC3339))
				}
			}
		}
		fmt.Println()
		return nil
	},
}

var (
	enqueueType     string
	enqueuePayload  string
	enqueuePriority int
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <collection> <document-id>",
	Short: "Queue an operation from the command line",
	Long: `Queue a single operation, mostly useful for testing a deployment.
The payload is inline JSON and must satisfy the collection schema:

  ledgersync enqueue customers cust-17 \
      --type update \
      --payload '{"name":"Asha Traders","version":4}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload map[string]any
		if enqueuePayload != "" {
			if err := json.Unmarshal([]byte(enqueuePayload), &payload); err != nil {
				return fmt.Errorf("invalid payload JSON: %w", err)
			}
		}

		rec, err := op.New(cfg.Owner, args[0], args[1], op.Type(enqueueType), payload)
		if err != nil {
			return err
		}
		rec.DeviceID = cfg.Device
		if enqueuePriority != 0 {
			rec.Priority = enqueuePriority
		}

		st, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		eng, err := buildEngine(st)
		if err != nil {
			return err
		}

		if err := eng.Enqueue(cmd.Context(), rec); err != nil {
			return err
		}
		fmt.Printf("✓ Queued %s %s/%s (op %s)\n", rec.Type, rec.Collection, rec.DocumentID, rec.ID)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueType, "type", "update", "operation type: create, update, delete, upload_asset")
	enqueueCmd.Flags().StringVar(&enqueuePayload, "payload", "", "payload JSON")
	enqueueCmd.Flags().IntVar(&enqueuePriority, "priority", 0, "dispatch priority (1=high, 2=normal, 3=low)")
}

var deadletterCmd = &cobra.Command{
	Use:   "deadletter",
	Short: "Inspect and requeue quarantined operations",
}

var deadletterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-letter operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		letters, err := st.ListDeadLetter(cmd.Context(), cfg.Owner)
		if err != nil {
			return err
		}
		if len(letters) == 0 {
			fmt.Println("No dead-letter operations.")
			return nil
		}

		for _, rec := range letters {
			fmt.Printf("%s  %-7s %s/%s  retries=%d\n",
				rec.ID, rec.Type, rec.Collection, rec.DocumentID, rec.RetryCount)
			if rec.LastError != "" {
				fmt.Printf("    %s\n", rec.LastError)
			}
		}
		fmt.Printf("\n%d operation(s). Requeue with 'ledgersync deadletter requeue <id>...'\n", len(letters))
		return nil
	},
}

var requeueAll bool

var deadletterRequeueCmd = &cobra.Command{
	Use:   "requeue [id]...",
	Short: "Return dead-letter operations to the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !requeueAll {
			return fmt.Errorf("specify operation IDs or --all")
		}

		st, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		ids := args
		if requeueAll {
			letters, err := st.ListDeadLetter(cmd.Context(), cfg.Owner)
			if err != nil {
				return err
			}
			ids = ids[:0]
			for _, rec := range letters {
				ids = append(ids, rec.ID)
			}
		}

		n, err := st.RequeueDeadLetter(cmd.Context(), ids...)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Requeued %d operation(s)\n", n)
		if n < len(ids) {
			fmt.Fprintf(os.Stderr, "Warning: %d ID(s) were not in dead letter\n", len(ids)-n)
		}
		return nil
	},
}

func init() {
	deadletterRequeueCmd.Flags().BoolVar(&requeueAll, "all", false, "requeue every dead-letter operation")
	deadletterCmd.AddCommand(deadletterListCmd)
	deadletterCmd.AddCommand(deadletterRequeueCmd)
}

func truncatePayload(p map[string]any) string {
	data, err := json.Marshal(p)
	if err != nil {
		return "?"
	}
	s := string(data)
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return strings.ReplaceAll(s, "\n", " ")
}
