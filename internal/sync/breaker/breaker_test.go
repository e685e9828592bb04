package breaker

import (
	"testing"
	"time"
)

// testClock is a manually advanced clock for breaker tests.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clock *testClock) *Breaker {
	return NewWithClock(Config{
		FailureThreshold: 5,
		Window:           time.Minute,
		CoolDown:         30 * time.Second,
	}, clock.now)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := newTestClock()
	b := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		if !b.CanExecute() {
			t.Fatalf("breaker opened after %d failures, threshold is 5", i+1)
		}
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("State() = %s after 5 failures, want open", b.State())
	}
	if b.CanExecute() {
		t.Error("CanExecute() = true while open, want false")
	}
}

func TestBreaker_SuccessResetsRun(t *testing.T) {
	clock := newTestClock()
	b := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()

	if b.Failures() != 0 {
		t.Errorf("Failures() = %d after success, want 0", b.Failures())
	}

	// Four more failures still should not open it.
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %s, want closed", b.State())
	}
}

// TestBreaker_WindowResetsRun verifies failures further apart than the
// window do not accumulate.
func TestBreaker_WindowResetsRun(t *testing.T) {
	clock := newTestClock()
	b := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	clock.advance(2 * time.Minute)

	// New run: this is failure 1 of a fresh sequence.
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("State() = %s, want closed after window reset", b.State())
	}
	if b.Failures() != 1 {
		t.Errorf("Failures() = %d, want 1", b.Failures())
	}
}

func TestBreaker_CoolDownThenSingleProbe(t *testing.T) {
	clock := newTestClock()
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	// Still inside cool-down.
	clock.advance(29 * time.Second)
	if b.CanExecute() {
		t.Fatal("CanExecute() = true inside cool-down")
	}

	// Cool-down elapsed: exactly one probe admitted.
	clock.advance(2 * time.Second)
	if !b.CanExecute() {
		t.Fatal("CanExecute() = false after cool-down, want probe admitted")
	}
	if b.State() != StateHalfOpen {
		t.Errorf("State() = %s, want half_open", b.State())
	}
	if b.CanExecute() {
		t.Error("second CanExecute() admitted while probe in flight")
	}
}

func TestBreaker_AllowDoesNotClaimProbe(t *testing.T) {
	clock := newTestClock()
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.advance(31 * time.Second)

	// Allow only peeks; repeated calls must leave the probe slot free.
	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatal("Allow() = false after cool-down")
		}
	}
	if b.State() != StateOpen {
		t.Errorf("State() = %s, Allow must not transition", b.State())
	}
	if !b.CanExecute() {
		t.Error("probe not admitted after Allow peeks")
	}
}

func TestBreaker_ReleaseFreesUnusedProbe(t *testing.T) {
	clock := newTestClock()
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.advance(31 * time.Second)

	if !b.CanExecute() {
		t.Fatal("probe not admitted after cool-down")
	}
	if b.CanExecute() {
		t.Fatal("second probe admitted while first in flight")
	}

	// The admitted attempt ended up making no remote call. Handing the
	// slot back lets the next attempt probe instead of leaving the
	// breaker half-open forever.
	b.Release()
	if b.State() != StateHalfOpen {
		t.Errorf("State() = %s after release, want half_open", b.State())
	}
	if !b.CanExecute() {
		t.Fatal("probe not admitted after Release")
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Errorf("State() = %s after probe success, want closed", b.State())
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	clock := newTestClock()
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.advance(31 * time.Second)

	if !b.CanExecute() {
		t.Fatal("probe not admitted after cool-down")
	}
	b.RecordSuccess()

	if b.State() != StateClosed {
		t.Errorf("State() = %s after probe success, want closed", b.State())
	}
	if b.Failures() != 0 {
		t.Errorf("Failures() = %d after probe success, want 0", b.Failures())
	}
	if !b.CanExecute() {
		t.Error("CanExecute() = false after breaker closed")
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	clock := newTestClock()
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.advance(31 * time.Second)

	if !b.CanExecute() {
		t.Fatal("probe not admitted after cool-down")
	}
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("State() = %s after probe failure, want open", b.State())
	}

	// Fresh cool-down applies from the probe failure.
	clock.advance(29 * time.Second)
	if b.CanExecute() {
		t.Error("CanExecute() = true inside fresh cool-down")
	}
	clock.advance(2 * time.Second)
	if !b.CanExecute() {
		t.Error("probe not admitted after fresh cool-down")
	}
}
