package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("remote: document not found")

	// ErrVersionMismatch indicates an optimistic concurrency clash:
	// the remote version moved between read and write.
	ErrVersionMismatch = errors.New("remote: version mismatch")

	// ErrUnauthorized indicates the remote rejected our credentials.
	ErrUnauthorized = errors.New("remote: unauthorized")
)

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Kind classifies a sync failure and decides how the engine reacts.
type Kind string

const (
	// KindNetwork covers transport and availability failures,
	// including timeouts. Retryable.
	KindNetwork Kind = "network"

	// KindAuth covers authorization failures. Not retryable; requires
	// external re-authentication.
	KindAuth Kind = "auth"

	// KindConflict is an optimistic version clash. Routed to the
	// conflict resolver, never counted as a retry failure.
	KindConflict Kind = "conflict"

	// KindValidation covers malformed payloads. Not retryable; the
	// operation is logged and dropped.
	KindValidation Kind = "validation"

	// KindUnknown is everything else. Retryable, bounded by the
	// dead-letter threshold.
	KindUnknown Kind = "unknown"
)

// Retryable reports whether failures of this kind may be redispatched.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindUnknown
}

// Error is a classified sync failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with an explicit kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Classify maps an error from a Store call onto the failure taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}

	switch {
	case errors.Is(err, ErrVersionMismatch):
		return KindConflict
	case errors.Is(err, ErrUnauthorized):
		return KindAuth
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	return KindUnknown
}
