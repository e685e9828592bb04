package op

// Status is the queue state of an Operation Record.
//
// Allowed transitions:
//
//	pending    -> in_progress
//	retry      -> in_progress
//	in_progress -> synced | failed | retry | dead_letter
//	failed     -> retry | dead_letter
//	dead_letter -> pending   (manual requeue only)
//
// synced is terminal; dead_letter is terminal for automatic dispatch and
// leaves only through an explicit operator requeue.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSynced     Status = "synced"
	StatusFailed     Status = "failed"
	StatusRetry      Status = "retry"
	StatusDeadLetter Status = "dead_letter"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSynced, StatusFailed, StatusRetry, StatusDeadLetter:
		return true
	}
	return false
}

// Terminal reports whether the status ends automatic dispatch.
func (s Status) Terminal() bool {
	return s == StatusSynced || s == StatusDeadLetter
}

// transitions is the edge table for the record state machine.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress},
	StatusRetry:      {StatusInProgress},
	StatusInProgress: {StatusSynced, StatusFailed, StatusRetry, StatusDeadLetter},
	StatusFailed:     {StatusRetry, StatusDeadLetter},
	StatusDeadLetter: {StatusPending}, // manual requeue
	StatusSynced:     nil,
}

// CanTransition reports whether the state machine allows moving a record
// from one status to another. The dead_letter -> pending edge exists but
// is only ever taken by the store's explicit requeue operations, never by
// the dispatch loop.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
