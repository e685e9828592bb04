package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kedarsarang7-eng/ledgersync/internal/sync/conflict"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/engine"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
	Long: `Conflicts appear when the remote copy of a document advanced under
another device while local edits were queued. The conflicted document
is paused until a resolution strategy is chosen.`,
}

// detectConflicts restores conflicts parked in the queue by earlier
// runs, then runs a dispatch pass so fresh ones surface too, and
// returns the engine holding them.
func detectConflicts(cmd *cobra.Command) (*engine.Engine, func(), error) {
	st, err := openQueue(cmd)
	if err != nil {
		return nil, nil, err
	}

	eng, err := buildEngine(st)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	if err := eng.LoadConflicts(cmd.Context()); err != nil {
		st.Close()
		return nil, nil, err
	}
	eng.SyncOnce(cmd.Context())
	return eng, func() { st.Close() }, nil
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, done, err := detectConflicts(cmd)
		if err != nil {
			return err
		}
		defer done()

		conflicts := eng.Conflicts()
		if len(conflicts) == 0 {
			fmt.Println("No open conflicts.")
			return nil
		}

		for _, c := range conflicts {
			fmt.Printf("%s/%s  local v%d vs remote v%d  detected %s\n",
				c.Collection, c.DocumentID, c.LocalVersion, c.RemoteVersion,
				c.DetectedAt.Format(time.RFC3339))
			fmt.Printf("    local:  %s\n", truncatePayload(c.LocalPayload))
			fmt.Printf("    remote: %s\n", truncatePayload(c.RemotePayload))
		}
		fmt.Printf("\n%d conflict(s). Resolve with 'ledgersync conflicts resolve <document-id> <strategy>'\n",
			len(conflicts))
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <document-id> <keep-local|keep-remote|merge>",
	Short: "Resolve a conflict",
	Long: `Resolve the open conflict on a document:

  keep-local   push the local payload, advancing past the remote version
  keep-remote  discard local changes and adopt the remote document
  merge        field-level merge: remote wins overlapping fields unless
               the local edit is newer; critical fields (amounts,
               payment status) always take the remote value`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		docID := args[0]
		strategy := conflict.Strategy(normalizeStrategy(args[1]))
		if !strategy.Valid() {
			return fmt.Errorf("unknown strategy %q", args[1])
		}

		eng, done, err := detectConflicts(cmd)
		if err != nil {
			return err
		}
		defer done()

		var target *conflict.Conflict
		for _, c := range eng.Conflicts() {
			if c.DocumentID == docID {
				target = c
				break
			}
		}
		if target == nil {
			return fmt.Errorf("no open conflict on document %q", docID)
		}

		if err := eng.ResolveConflict(cmd.Context(), target.ID, strategy); err != nil {
			return err
		}

		// Push the resolution (keep-remote has nothing to push).
		eng.SyncOnce(cmd.Context())

		fmt.Printf("✓ Resolved %s/%s via %s\n", target.Collection, docID, strategy)
		return nil
	},
}

// normalizeStrategy accepts the CLI spelling (keep-local) alongside the
// wire spelling (keep_local).
func normalizeStrategy(s string) string {
	switch s {
	case "keep-local":
		return string(conflict.KeepLocal)
	case "keep-remote":
		return string(conflict.KeepRemote)
	}
	return s
}

func init() {
	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
}
