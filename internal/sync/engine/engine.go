// Package engine runs the sync dispatch loop.
//
// A single dispatcher owns the queue: it claims eligible records in
// order, fans them out to a small worker pool, and routes each outcome
// back into the state machine (synced, retry with backoff, failed,
// dead letter, or a paused conflict awaiting resolution). The circuit
// breaker gates dispatch while the remote is unhealthy so waiting
// records keep their retry budget.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kedarsarang7-eng/ledgersync/internal/sync/breaker"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/conflict"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/op"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/processor"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/remote"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/retry"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/store"
)

// LocalApplier consumes remote changes pulled during reconciliation and
// applies them to the application's own tables. Implementations must be
// idempotent: the same change may be delivered more than once.
type LocalApplier interface {
	ApplyRemote(ctx context.Context, doc *remote.Document) error
}

// Config controls the dispatch loop.
type Config struct {
	// Owner is the tenant this engine syncs for.
	Owner string

	// Device attributes enqueued mutations in conflict reports.
	Device string

	// Workers is the size of the dispatch pool. Default 3.
	Workers int

	// BatchSize caps records claimed per cycle. Default 25.
	BatchSize int

	// Interval is the periodic dispatch tick. Default 15s.
	Interval time.Duration

	// SweepInterval is how often retryable dead letters are rescued
	// while the remote is healthy. Default 10m.
	SweepInterval time.Duration

	Retry   retry.Policy
	Breaker breaker.Config
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	if c.Retry.DeadLetterThreshold == 0 {
		c.Retry = retry.DefaultPolicy()
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker = breaker.DefaultConfig()
	}
	return c
}

// Event is one entry on the engine's status stream.
type Event struct {
	// Type is one of: synced, retry, failed, dead_letter, conflict,
	// resolved, pull, stats.
	Type string `json:"type"`

	OperationID string `json:"operation_id,omitempty"`
	Collection  string `json:"collection,omitempty"`
	DocumentID  string `json:"document_id,omitempty"`
	Error       string `json:"error,omitempty"`

	Conflict *conflict.Conflict `json:"conflict,omitempty"`
	Stats    *store.Stats       `json:"stats,omitempty"`

	Time time.Time `json:"time"`
}

// Engine coordinates pushes, pulls and conflict resolution for one
// tenant.
type Engine struct {
	cfg    Config
	queue  *store.Store
	remote remote.Store
	proc   *processor.Processor
	brk    *breaker.Breaker
	reg    *op.Registry
	local  LocalApplier
	logger *log.Logger

	mu      sync.Mutex
	online  bool
	paused  map[string]*conflict.Conflict // document ID -> open conflict
	byID    map[string]*conflict.Conflict // conflict ID -> open conflict
	subs    map[chan Event]struct{}
	running bool

	nudge   chan struct{}
	pullReq chan struct{}
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithLocalApplier sets the consumer of pulled remote changes. Without
// one, pulls only advance the checkpoint.
func WithLocalApplier(a LocalApplier) Option {
	return func(e *Engine) { e.local = a }
}

// WithLogger replaces the engine's logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithLogOutput directs engine logs at w.
func WithLogOutput(w io.Writer) Option {
	return func(e *Engine) { e.logger = log.New(w, "[sync] ", log.LstdFlags) }
}

// WithSchemas replaces the collection schema registry used to validate
// payloads at enqueue time.
func WithSchemas(reg *op.Registry) Option {
	return func(e *Engine) { e.reg = reg }
}

// WithClock injects the clock used by the breaker and processor. Test
// hook.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.brk = breaker.NewWithClock(e.cfg.Breaker, now)
		e.proc = processor.NewWithClock(e.remote, now)
	}
}

// New builds an engine over a local queue and a remote store.
func New(cfg Config, queue *store.Store, rem remote.Store, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		queue:   queue,
		remote:  rem,
		proc:    processor.New(rem),
		brk:     breaker.New(cfg.Breaker),
		reg:     op.DefaultRegistry(),
		logger:  log.New(io.Discard, "[sync] ", log.LstdFlags),
		online:  true,
		paused:  make(map[string]*conflict.Conflict),
		byID:    make(map[string]*conflict.Conflict),
		subs:    make(map[chan Event]struct{}),
		nudge:   make(chan struct{}, 1),
		pullReq: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue validates a mutation against its collection schema and
// persists it to the queue. The dispatch loop is nudged immediately;
// callers never wait for the network.
func (e *Engine) Enqueue(ctx context.Context, rec *op.Record) error {
	if rec.OwnerID == "" {
		rec.OwnerID = e.cfg.Owner
		// The ID is a digest over the identity tuple; filling the
		// owner in changes that tuple, so the ID is derived again.
		rec.ID = op.NewID(rec.OwnerID, rec.Collection, rec.DocumentID, rec.Type, rec.CreatedAt)
	}
	if rec.DeviceID == "" {
		rec.DeviceID = e.cfg.Device
	}

	if err := e.reg.Validate(rec.Collection, rec.Type, rec.Payload); err != nil {
		return fmt.Errorf("payload rejected: %w", err)
	}
	if err := e.queue.Enqueue(ctx, rec); err != nil {
		return err
	}

	e.logger.Printf("enqueued %s %s/%s (op %s)", rec.Type, rec.Collection, rec.DocumentID, rec.ID)
	e.TriggerSync()
	return nil
}

// TriggerSync requests an immediate dispatch cycle. Coalesces when a
// request is already queued.
func (e *Engine) TriggerSync() {
	select {
	case e.nudge <- struct{}{}:
	default:
	}
}

// TriggerPull requests an immediate reconciliation pull.
func (e *Engine) TriggerPull() {
	select {
	case e.pullReq <- struct{}{}:
	default:
	}
}

// SetOnline flips the connectivity hint. While offline the dispatch
// loop idles; going online triggers a cycle and a pull.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.mu.Unlock()

	if online && !was {
		e.logger.Printf("back online")
		e.TriggerSync()
		e.TriggerPull()
	}
}

func (e *Engine) isOnline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// BreakerState exposes the current circuit breaker state.
func (e *Engine) BreakerState() breaker.State {
	return e.brk.State()
}

// Stats returns the current queue counts.
func (e *Engine) Stats(ctx context.Context) (*store.Stats, error) {
	return e.queue.Stats(ctx)
}

// Conflicts lists open conflicts, oldest first.
func (e *Engine) Conflicts() []*conflict.Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*conflict.Conflict, 0, len(e.byID))
	for _, c := range e.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out
}

// Subscribe registers a status stream consumer. The returned cancel
// func must be called to release the subscription. Slow consumers drop
// events rather than stall the dispatcher.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
		e.mu.Unlock()
	}
	return ch, cancel
}

func (e *Engine) publish(ev Event) {
	ev.Time = time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Run executes the dispatch loop until ctx is cancelled. Records left
// in_progress by a previous run are reclaimed first.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if n, err := e.queue.ReclaimInProgress(ctx); err != nil {
		return fmt.Errorf("failed to reclaim orphaned records: %w", err)
	} else if n > 0 {
		e.logger.Printf("reclaimed %d orphaned in-progress records", n)
	}

	// Conflicts parked by a previous process must resurface here or no
	// one can ever resolve them. Failure is not fatal; the sweep keeps
	// trying once the remote is reachable.
	if err := e.LoadConflicts(ctx); err != nil {
		e.logger.Printf("failed to restore open conflicts: %v", err)
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	sweep := time.NewTicker(e.cfg.SweepInterval)
	defer sweep.Stop()

	e.TriggerSync()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.dispatch(ctx)
		case <-e.nudge:
			e.dispatch(ctx)
		case <-e.pullReq:
			if err := e.Pull(ctx); err != nil {
				e.logger.Printf("pull failed: %v", err)
			}
		case <-sweep.C:
			e.sweepDeadLetters(ctx)
			if err := e.LoadConflicts(ctx); err != nil {
				e.logger.Printf("failed to restore open conflicts: %v", err)
			}
		}
	}
}

// SyncOnce runs a single claim-and-process cycle synchronously. Used
// by one-shot CLI invocations; the daemon path goes through Run.
func (e *Engine) SyncOnce(ctx context.Context) {
	e.dispatch(ctx)
}

// dispatch runs one claim-and-process cycle.
func (e *Engine) dispatch(ctx context.Context) {
	if !e.isOnline() {
		return
	}
	if !e.brk.Allow() {
		e.logger.Printf("circuit %s, holding dispatch", e.brk.State())
		return
	}

	limit := e.cfg.BatchSize
	if e.brk.State() != breaker.StateClosed {
		// A recovering remote gets a single probe, not a whole batch.
		limit = 1
	}

	records, err := e.queue.ClaimBatch(ctx, limit, e.pausedDocs())
	if err != nil {
		e.logger.Printf("claim failed: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}

	// Records sharing a dependency group must apply in order, so the
	// pool works group by group. Independent records each form their
	// own unit.
	groups := groupRecords(records)

	work := make(chan []*op.Record)
	var wg sync.WaitGroup
	var synced int64
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chain := range work {
				for _, rec := range chain {
					// Shutdown or the breaker tripping mid-batch hands
					// the unprocessed records back untouched. The
					// breaker is consulted per record so one bad batch
					// cannot drain every claimed record's retries.
					if ctx.Err() != nil || !e.brk.CanExecute() {
						e.releaseChain(ctx, chain, rec, true)
						break
					}
					if !e.process(ctx, rec) {
						// A failed step blocks the rest of its chain.
						e.releaseChain(ctx, chain, rec, false)
						break
					}
					atomic.AddInt64(&synced, 1)
				}
			}
		}()
	}
	for _, g := range groups {
		work <- g
	}
	close(work)
	wg.Wait()

	if stats, err := e.queue.Stats(ctx); err == nil {
		e.publish(Event{Type: "stats", Stats: stats})
	}

	// Progress may have unblocked later dependency steps; run again
	// until a cycle claims nothing.
	if atomic.LoadInt64(&synced) > 0 {
		e.TriggerSync()
	}
}

// process applies one record and routes the outcome. Returns true when
// the record synced (or was absorbed as a redelivery).
func (e *Engine) process(ctx context.Context, rec *op.Record) bool {
	out := e.proc.Apply(ctx, rec)

	switch {
	case out.Conflict != nil:
		// The remote answered, so this is not an availability failure.
		e.brk.RecordSuccess()
		e.recordConflict(ctx, rec, out.Conflict)
		return false

	case out.Err != nil:
		return e.recordFailure(ctx, rec, out.Err)

	default:
		e.brk.RecordSuccess()
		if err := e.queue.MarkSynced(ctx, rec.ID, time.Now()); err != nil {
			e.logger.Printf("failed to mark %s synced: %v", rec.ID, err)
			return false
		}
		if out.AlreadyApplied {
			e.logger.Printf("absorbed redelivery of op %s", rec.ID)
		} else {
			e.logger.Printf("synced %s %s/%s", rec.Type, rec.Collection, rec.DocumentID)
		}
		e.publish(Event{Type: "synced", OperationID: rec.ID, Collection: rec.Collection, DocumentID: rec.DocumentID})
		return true
	}
}

func (e *Engine) recordConflict(ctx context.Context, rec *op.Record, c *conflict.Conflict) {
	e.mu.Lock()
	e.paused[c.DocumentID] = c
	e.byID[c.ID] = c
	e.mu.Unlock()

	msg := fmt.Sprintf("version conflict: local v%d vs remote v%d, awaiting resolution",
		c.LocalVersion, c.RemoteVersion)
	if err := e.queue.MarkFailed(ctx, rec.ID, msg, string(remote.KindConflict)); err != nil {
		e.logger.Printf("failed to park conflicted op %s: %v", rec.ID, err)
	}

	e.logger.Printf("conflict on %s/%s: %s", c.Collection, c.DocumentID, msg)
	e.publish(Event{Type: "conflict", OperationID: rec.ID, Collection: c.Collection,
		DocumentID: c.DocumentID, Conflict: c, Error: msg})
}

func (e *Engine) recordFailure(ctx context.Context, rec *op.Record, applyErr error) bool {
	kind := remote.Classify(applyErr)

	switch kind {
	case remote.KindValidation:
		// Malformed beyond repair; quarantine, never retried. The
		// breaker only tracks availability, so the admission is handed
		// back rather than counted either way.
		e.brk.Release()
		e.logger.Printf("dropping invalid op %s: %v", rec.ID, applyErr)
		if err := e.queue.MarkDeadLetter(ctx, rec.ID, applyErr.Error(), string(kind)); err != nil {
			e.logger.Printf("failed to dead-letter %s: %v", rec.ID, err)
		}
		e.publish(Event{Type: "dead_letter", OperationID: rec.ID, Collection: rec.Collection,
			DocumentID: rec.DocumentID, Error: applyErr.Error()})
		return false

	case remote.KindAuth:
		// Waits for re-authentication; not an availability failure.
		e.brk.Release()
		e.logger.Printf("auth failure on op %s: %v", rec.ID, applyErr)
		if err := e.queue.MarkFailed(ctx, rec.ID, applyErr.Error(), string(kind)); err != nil {
			e.logger.Printf("failed to mark %s failed: %v", rec.ID, err)
		}
		e.publish(Event{Type: "failed", OperationID: rec.ID, Collection: rec.Collection,
			DocumentID: rec.DocumentID, Error: applyErr.Error()})
		return false

	default:
		e.brk.RecordFailure()

		attempts := rec.RetryCount + 1
		if e.cfg.Retry.ShouldDeadLetter(attempts) {
			e.logger.Printf("op %s exhausted %d attempts, dead-lettering: %v", rec.ID, attempts, applyErr)
			if err := e.queue.MarkDeadLetter(ctx, rec.ID, applyErr.Error(), string(kind)); err != nil {
				e.logger.Printf("failed to dead-letter %s: %v", rec.ID, err)
			}
			e.publish(Event{Type: "dead_letter", OperationID: rec.ID, Collection: rec.Collection,
				DocumentID: rec.DocumentID, Error: applyErr.Error()})
			return false
		}

		next := e.cfg.Retry.NextAttempt(time.Now(), rec.RetryCount)
		e.logger.Printf("op %s failed (%s), retry %d at %s: %v",
			rec.ID, kind, attempts, next.Format(time.RFC3339), applyErr)
		if err := e.queue.MarkRetry(ctx, rec.ID, applyErr.Error(), string(kind), next); err != nil {
			e.logger.Printf("failed to schedule retry for %s: %v", rec.ID, err)
		}
		e.publish(Event{Type: "retry", OperationID: rec.ID, Collection: rec.Collection,
			DocumentID: rec.DocumentID, Error: applyErr.Error()})
		return false
	}
}

// releaseChain returns the records of chain from the given one onward
// to pending without charging their retry budget. inclusive keeps the
// record itself in the release set; a record that already received its
// own transition (retry, failed, dead letter) is skipped instead.
func (e *Engine) releaseChain(ctx context.Context, chain []*op.Record, from *op.Record, inclusive bool) {
	var ids []string
	past := false
	for _, rec := range chain {
		if rec.ID == from.ID {
			past = true
			if !inclusive {
				continue
			}
		}
		if past {
			ids = append(ids, rec.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := e.queue.Release(ctx, ids...); err != nil {
		e.logger.Printf("failed to release chained ops: %v", err)
	}
}

func (e *Engine) pausedDocs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.paused) == 0 {
		return nil
	}
	docs := make([]string, 0, len(e.paused))
	for d := range e.paused {
		docs = append(docs, d)
	}
	return docs
}

// groupRecords partitions claimed records into serial chains. Records
// sharing a dependency group stay together in step order; everything
// else is its own single-record chain. Claim order is preserved.
func groupRecords(records []*op.Record) [][]*op.Record {
	var chains [][]*op.Record
	index := make(map[string]int)

	for _, rec := range records {
		if rec.DependencyGroup == "" {
			chains = append(chains, []*op.Record{rec})
			continue
		}
		if i, ok := index[rec.DependencyGroup]; ok {
			chains[i] = append(chains[i], rec)
			continue
		}
		index[rec.DependencyGroup] = len(chains)
		chains = append(chains, []*op.Record{rec})
	}
	return chains
}

// sweepDeadLetters requeues retryable dead letters while the remote is
// healthy.
func (e *Engine) sweepDeadLetters(ctx context.Context) {
	if !e.isOnline() || e.brk.State() != breaker.StateClosed {
		return
	}
	n, err := e.queue.RescueRetryable(ctx)
	if err != nil {
		e.logger.Printf("dead-letter sweep failed: %v", err)
		return
	}
	if n > 0 {
		e.logger.Printf("rescued %d retryable dead letters", n)
		e.TriggerSync()
	}
}
