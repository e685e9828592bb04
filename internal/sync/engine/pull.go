package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kedarsarang7-eng/ledgersync/internal/sync/remote"
)

// Pull fetches remote changes since the last checkpoint and hands them
// to the local applier. Documents with unsynced local operations are
// skipped so queued local truth is not clobbered; they reconcile when
// their push lands (or conflicts). The checkpoint only advances after
// every delivered change applied cleanly.
func (e *Engine) Pull(ctx context.Context) error {
	if !e.isOnline() {
		return nil
	}
	if !e.brk.CanExecute() {
		return fmt.Errorf("circuit %s, pull deferred", e.brk.State())
	}

	since, err := e.queue.Checkpoint(ctx, e.cfg.Owner)
	if err != nil {
		// No remote call happened; hand the admission back so the next
		// attempt can still probe.
		e.brk.Release()
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}

	changes, err := e.remote.Changes(ctx, e.cfg.Owner, since)
	if err != nil {
		if remote.Classify(err).Retryable() {
			e.brk.RecordFailure()
		} else {
			e.brk.Release()
		}
		return fmt.Errorf("failed to fetch changes: %w", err)
	}
	e.brk.RecordSuccess()

	applied, skipped := 0, 0
	for _, doc := range changes.Documents {
		pending, err := e.queue.PendingForDocument(ctx, e.cfg.Owner, doc.Collection, doc.ID)
		if err != nil {
			return fmt.Errorf("failed to check pending ops for %s/%s: %w", doc.Collection, doc.ID, err)
		}
		if pending > 0 {
			skipped++
			continue
		}
		if e.isPaused(doc.ID) {
			skipped++
			continue
		}

		if e.local != nil {
			d := doc
			if err := e.local.ApplyRemote(ctx, &d); err != nil {
				return fmt.Errorf("failed to apply remote change %s/%s: %w", doc.Collection, doc.ID, err)
			}
		}
		applied++
	}

	if err := e.queue.SetCheckpoint(ctx, e.cfg.Owner, changes.ServerTime); err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}

	if applied > 0 || skipped > 0 {
		e.logger.Printf("pull applied %d changes, skipped %d with local edits", applied, skipped)
	}
	e.publish(Event{Type: "pull", Time: time.Now().UTC()})
	return nil
}

func (e *Engine) isPaused(docID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.paused[docID]
	return ok
}
