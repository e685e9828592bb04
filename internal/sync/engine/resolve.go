package engine

import (
	"context"
	"fmt"

	"github.com/kedarsarang7-eng/ledgersync/internal/sync/conflict"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/op"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/remote"
)

// ErrConflictNotFound is returned when resolving an unknown conflict ID.
var ErrConflictNotFound = fmt.Errorf("engine: conflict not found")

// ResolveConflict applies a resolution strategy to an open conflict.
//
// keep_local and merge enqueue a fresh operation carrying the resolved
// payload; keep_remote pulls the remote document into the local store.
// Either way the original conflicted operation is quarantined as
// superseded and the document is unpaused.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, strategy conflict.Strategy) error {
	e.mu.Lock()
	c, ok := e.byID[conflictID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID)
	}

	res, err := conflict.Resolve(c, strategy, e.reg.Critical(c.Collection))
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %s: %w", conflictID, err)
	}

	if res.PullRemote {
		if err := e.adoptRemote(ctx, c); err != nil {
			return err
		}
	} else {
		rec, err := op.New(c.OwnerID, c.Collection, c.DocumentID, op.TypeUpdate, res.Payload)
		if err != nil {
			return fmt.Errorf("failed to build resolution operation: %w", err)
		}
		rec.DeviceID = c.DeviceID
		rec.Priority = op.PriorityHigh

		if err := e.queue.Enqueue(ctx, rec); err != nil {
			return fmt.Errorf("failed to enqueue resolution: %w", err)
		}
		e.logger.Printf("conflict %s resolved via %s, enqueued op %s at v%d",
			conflictID, strategy, rec.ID, res.Version)
	}

	// The conflicted operation is closed out; the resolution replaced it.
	note := fmt.Sprintf("superseded by %s resolution", strategy)
	if err := e.queue.MarkDeadLetter(ctx, c.OperationID, note, string(remote.KindConflict)); err != nil {
		e.logger.Printf("failed to close out conflicted op %s: %v", c.OperationID, err)
	}

	e.mu.Lock()
	delete(e.paused, c.DocumentID)
	delete(e.byID, conflictID)
	e.mu.Unlock()

	e.publish(Event{Type: "resolved", OperationID: c.OperationID,
		Collection: c.Collection, DocumentID: c.DocumentID})
	e.TriggerSync()
	return nil
}

// LoadConflicts rebuilds the open conflict set from records a previous
// process parked in the queue as failed with a conflict error. The
// divergence is reconstructed by re-reading the current remote
// document. A record whose remote obstacle is gone (the document was
// deleted, or this record's own write landed after all) goes straight
// back to pending instead.
//
// Called on Run start and on the maintenance sweep; one-shot CLI flows
// call it before listing or resolving.
func (e *Engine) LoadConflicts(ctx context.Context) error {
	if !e.isOnline() {
		return nil
	}

	records, err := e.queue.ListConflicted(ctx, e.cfg.Owner)
	if err != nil {
		return fmt.Errorf("failed to list conflicted records: %w", err)
	}

	for _, rec := range records {
		if e.tracksConflictFor(rec.ID) {
			continue
		}

		doc, err := e.remote.Get(ctx, rec.OwnerID, rec.Collection, rec.DocumentID)
		if remote.IsNotFound(err) || (err == nil && doc.Tag.OperationID == rec.ID) {
			// Nothing stands in the record's way anymore; redispatch
			// either writes it fresh or absorbs it as a redelivery.
			if err := e.queue.RequeueFailed(ctx, rec.ID); err != nil {
				e.logger.Printf("failed to requeue %s: %v", rec.ID, err)
				continue
			}
			e.TriggerSync()
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to re-read %s/%s: %w", rec.Collection, rec.DocumentID, err)
		}

		c := e.proc.Divergence(rec, doc)
		e.mu.Lock()
		e.paused[c.DocumentID] = c
		e.byID[c.ID] = c
		e.mu.Unlock()

		e.logger.Printf("restored conflict on %s/%s (op %s)", c.Collection, c.DocumentID, rec.ID)
		e.publish(Event{Type: "conflict", OperationID: rec.ID, Collection: c.Collection,
			DocumentID: c.DocumentID, Conflict: c})
	}
	return nil
}

// tracksConflictFor reports whether an open conflict already covers the
// given operation.
func (e *Engine) tracksConflictFor(opID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.byID {
		if c.OperationID == opID {
			return true
		}
	}
	return false
}

// adoptRemote fetches the current remote document and hands it to the
// local applier, discarding the local divergence.
func (e *Engine) adoptRemote(ctx context.Context, c *conflict.Conflict) error {
	doc, err := e.remote.Get(ctx, c.OwnerID, c.Collection, c.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to fetch remote document for keep-remote: %w", err)
	}
	if e.local != nil {
		if err := e.local.ApplyRemote(ctx, doc); err != nil {
			return fmt.Errorf("failed to apply remote document locally: %w", err)
		}
	}
	e.logger.Printf("conflict on %s/%s resolved by adopting remote v%d",
		c.Collection, c.DocumentID, doc.Version)
	return nil
}
