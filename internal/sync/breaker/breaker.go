// Package breaker implements the process-wide circuit breaker that gates
// dispatch to the remote store.
//
// When the remote is known to be down, dispatching queued operations only
// burns their limited retry budgets. The breaker opens after a run of
// consecutive failures inside a sliding window, rejects all dispatch for
// a fixed cool-down, then admits exactly one probe; the probe's outcome
// decides whether normal dispatch resumes.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker's current mode.
type State string

const (
	// StateClosed admits all dispatch attempts.
	StateClosed State = "closed"

	// StateOpen rejects all dispatch attempts without calling the
	// remote.
	StateOpen State = "open"

	// StateHalfOpen admits exactly one probe attempt.
	StateHalfOpen State = "half_open"
)

// Config tunes the breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that
	// opens the breaker.
	FailureThreshold int

	// Window bounds how far apart consecutive failures may be and
	// still count as one run. A failure older than Window resets the
	// run before counting the new one.
	Window time.Duration

	// CoolDown is how long the breaker stays open before admitting a
	// probe.
	CoolDown time.Duration
}

// DefaultConfig opens after 5 consecutive failures within a minute and
// cools down for 30 seconds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           time.Minute,
		CoolDown:         30 * time.Second,
	}
}

// Breaker is safe for concurrent use by every dispatch worker.
type Breaker struct {
	mu sync.Mutex

	cfg           Config
	state         State
	failures      int
	lastFailure   time.Time
	openedAt      time.Time
	probeInFlight bool

	now func() time.Time
}

// New creates a closed breaker with the given configuration.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultConfig().CoolDown
	}
	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// NewWithClock creates a breaker with an injected clock for tests.
func NewWithClock(cfg Config, now func() time.Time) *Breaker {
	b := New(cfg)
	b.now = now
	return b
}

// Allow reports whether a dispatch attempt could proceed right now,
// without claiming anything. Callers use it to decide whether a cycle
// is worth starting; the probe slot is only taken by CanExecute when a
// remote call is actually about to happen.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return b.now().Sub(b.openedAt) >= b.cfg.CoolDown
	case StateHalfOpen:
		return !b.probeInFlight
	}
	return false
}

// CanExecute admits one remote call.
//
// In the open state, once the cool-down has elapsed the breaker moves to
// half-open and this call claims the single probe slot; subsequent calls
// return false until the probe's outcome is recorded (or the slot is
// handed back via Release). Every true return must be balanced by
// RecordSuccess, RecordFailure, or Release.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.CoolDown {
			return false
		}
		// Cool-down elapsed: this caller becomes the probe.
		b.state = StateHalfOpen
		b.probeInFlight = true
		return true

	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// Release returns a probe slot claimed by CanExecute without recording
// an outcome. Called when the admitted attempt ended up making no
// remote call, so the next attempt can still probe.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probeInFlight = false
	}
}

// RecordSuccess reports a successful remote call. A half-open probe
// success closes the breaker and resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probeInFlight = false
	b.state = StateClosed
}

// RecordFailure reports a failed remote call. Consecutive failures
// inside the window open the breaker; a half-open probe failure re-opens
// it with a fresh cool-down.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == StateHalfOpen {
		b.probeInFlight = false
		b.open(now)
		return
	}
	if b.state == StateOpen {
		return
	}

	// Failures further apart than the window start a new run.
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.cfg.Window {
		b.failures = 0
	}
	b.failures++
	b.lastFailure = now

	if b.failures >= b.cfg.FailureThreshold {
		b.open(now)
	}
}

// open transitions to the open state. Caller holds the lock.
func (b *Breaker) open(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.failures = 0
	b.lastFailure = time.Time{}
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
