package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kedarsarang7-eng/ledgersync/internal/sync/op"
)

// Enqueuer accepts operation records for dispatch. Satisfied by the
// sync engine.
type Enqueuer interface {
	Enqueue(ctx context.Context, rec *op.Record) error
}

// fileOperation is the JSON shape domain applications drop into the
// outbox directory. Identity fields the engine can default (owner,
// device) are optional.
type fileOperation struct {
	Type            op.Type        `json:"type"`
	Collection      string         `json:"collection"`
	DocumentID      string         `json:"document_id"`
	OwnerID         string         `json:"owner_id,omitempty"`
	DeviceID        string         `json:"device_id,omitempty"`
	Priority        int            `json:"priority,omitempty"`
	DependencyGroup string         `json:"dependency_group,omitempty"`
	ParentID        string         `json:"parent_id,omitempty"`
	StepNumber      int            `json:"step_number,omitempty"`
	TotalSteps      int            `json:"total_steps,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
}

// Daemon tails an outbox directory and enqueues every operation file
// dropped into it. Files that enqueue cleanly are removed; files the
// engine rejects move to the rejected/ subdirectory for inspection.
//
// The outbox decouples producing applications from the engine process:
// a point-of-sale app writes a JSON file per mutation and the daemon
// picks it up, whether the engine was running at write time or not
// (startup sweeps catch files written while the daemon was down).
type Daemon struct {
	outbox   string
	enq      Enqueuer
	logger   *log.Logger
	debounce time.Duration

	mu        sync.Mutex
	scheduled map[string]*time.Timer
}

// NewDaemon creates an outbox daemon feeding the given enqueuer.
func NewDaemon(outbox string, enq Enqueuer) *Daemon {
	return &Daemon{
		outbox:    outbox,
		enq:       enq,
		logger:    log.New(io.Discard, "[outbox] ", log.LstdFlags),
		debounce:  200 * time.Millisecond,
		scheduled: make(map[string]*time.Timer),
	}
}

// SetLogger directs daemon logs at w.
func (d *Daemon) SetLogger(w io.Writer) {
	d.logger = log.New(w, "[outbox] ", log.LstdFlags)
}

// SetDebounce adjusts the quiet period before a written file is read.
// The delay lets producers finish multi-write saves before parsing.
func (d *Daemon) SetDebounce(delay time.Duration) {
	d.debounce = delay
}

// Run watches the outbox until ctx is cancelled. Files already present
// at startup are processed first.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.outbox, 0755); err != nil {
		return fmt.Errorf("failed to create outbox directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(d.outbox, "rejected"), 0755); err != nil {
		return fmt.Errorf("failed to create rejected directory: %w", err)
	}

	if err := d.Sweep(ctx); err != nil {
		return err
	}

	fw, err := NewFileWatcher()
	if err != nil {
		return err
	}
	if err := fw.Start(d.outbox); err != nil {
		return err
	}
	defer func() {
		if err := fw.Stop(); err != nil {
			d.logger.Printf("failed to stop watcher: %v", err)
		}
		d.cancelScheduled()
	}()

	d.logger.Printf("watching %s", d.outbox)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}
			if ev.Op == OpDelete {
				continue
			}
			d.schedule(ctx, ev.Path)

		case err, ok := <-fw.Errors():
			if !ok {
				return nil
			}
			d.logger.Printf("watch error: %v", err)
		}
	}
}

// Sweep processes every operation file currently in the outbox, oldest
// name first.
func (d *Daemon) Sweep(ctx context.Context) error {
	entries, err := os.ReadDir(d.outbox)
	if err != nil {
		return fmt.Errorf("failed to read outbox: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.process(ctx, filepath.Join(d.outbox, name))
	}
	return nil
}

// schedule queues a file for processing after the debounce quiet
// period, coalescing repeated write events for the same path.
func (d *Daemon) schedule(ctx context.Context, path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.scheduled[path]; ok {
		t.Reset(d.debounce)
		return
	}
	d.scheduled[path] = time.AfterFunc(d.debounce, func() {
		d.mu.Lock()
		delete(d.scheduled, path)
		d.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		d.process(ctx, path)
	})
}

func (d *Daemon) cancelScheduled() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for path, t := range d.scheduled {
		t.Stop()
		delete(d.scheduled, path)
	}
}

// process parses one outbox file and enqueues it. The file is removed
// on success and moved to rejected/ on any failure.
func (d *Daemon) process(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		d.logger.Printf("failed to read %s: %v", path, err)
		return
	}

	var fo fileOperation
	if err := json.Unmarshal(data, &fo); err != nil {
		d.reject(path, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	rec, err := buildRecord(&fo)
	if err != nil {
		d.reject(path, err)
		return
	}

	if err := d.enq.Enqueue(ctx, rec); err != nil {
		d.reject(path, err)
		return
	}

	if err := os.Remove(path); err != nil {
		d.logger.Printf("failed to remove processed file %s: %v", path, err)
	}
	d.logger.Printf("enqueued %s %s/%s from %s", rec.Type, rec.Collection, rec.DocumentID, filepath.Base(path))
}

// reject moves a bad outbox file aside and records the reason next to
// it.
func (d *Daemon) reject(path string, reason error) {
	d.logger.Printf("rejecting %s: %v", path, reason)

	dest := filepath.Join(d.outbox, "rejected", filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		d.logger.Printf("failed to move rejected file %s: %v", path, err)
		return
	}
	note := []byte(reason.Error() + "\n")
	if err := os.WriteFile(dest+".reason", note, 0644); err != nil {
		d.logger.Printf("failed to write rejection reason for %s: %v", dest, err)
	}
}

func buildRecord(fo *fileOperation) (*op.Record, error) {
	owner := fo.OwnerID
	if owner == "" {
		// The engine fills its configured owner in and derives the
		// operation ID again; a placeholder keeps record construction
		// valid until then.
		owner = "-"
	}

	rec, err := op.New(owner, fo.Collection, fo.DocumentID, fo.Type, fo.Payload)
	if err != nil {
		return nil, err
	}
	if fo.OwnerID == "" {
		rec.OwnerID = ""
	}
	rec.DeviceID = fo.DeviceID
	if fo.Priority != 0 {
		rec.Priority = fo.Priority
	}
	rec.DependencyGroup = fo.DependencyGroup
	rec.ParentID = fo.ParentID
	rec.StepNumber = fo.StepNumber
	rec.TotalSteps = fo.TotalSteps
	return rec, nil
}
