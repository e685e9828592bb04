// Package op defines the Operation Record, the unit of work queued by
// domain code after every local write and drained by the sync engine.
//
// A Record captures one mutation intent against the remote store: what
// document it targets, which tenant owns it, the payload to apply, and
// enough bookkeeping (status, retry count, dependency group) for the
// engine to drive it through the state machine to a terminal state.
//
// Records are created by domain code immediately after the local write
// commits and are mutated exclusively by the engine afterwards.
package op

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Type identifies the kind of remote mutation a record carries.
type Type string

const (
	// TypeCreate inserts a new remote document.
	TypeCreate Type = "create"

	// TypeUpdate overwrites an existing remote document under
	// optimistic version control.
	TypeUpdate Type = "update"

	// TypeDelete soft-deletes the remote document. The document is
	// never physically removed; a deleted flag and timestamp are set
	// so audit history is preserved.
	TypeDelete Type = "delete"

	// TypeUploadAsset pushes binary content (receipts, invoice PDFs)
	// to the remote asset store. Usually the first step of a
	// dependency group whose later steps reference the asset.
	TypeUploadAsset Type = "upload_asset"
)

// Dispatch priorities. Lower values dispatch first.
const (
	PriorityHigh   = 1
	PriorityNormal = 2
	PriorityLow    = 3
)

// Valid reports whether t is a known operation type.
func (t Type) Valid() bool {
	switch t {
	case TypeCreate, TypeUpdate, TypeDelete, TypeUploadAsset:
		return true
	}
	return false
}

// Record is one queued, durable mutation intent awaiting remote application.
type Record struct {
	// ID uniquely identifies the operation. It is derived
	// deterministically from the target identity and creation instant
	// (see NewID) so duplicate deliveries can be detected remotely.
	// Immutable once created.
	ID string `json:"id"`

	Type       Type   `json:"type"`
	Collection string `json:"collection"`
	DocumentID string `json:"document_id"`

	// OwnerID is the tenant performing the enqueue. Every record
	// carries exactly one owner; cross-tenant mutation is not
	// representable.
	OwnerID string `json:"owner_id"`

	// DeviceID attributes the mutation to the originating device for
	// multi-device conflict reporting.
	DeviceID string `json:"device_id,omitempty"`

	// Payload is the document content to apply. It must carry a
	// client-side "version" counter (see Version). Validated against
	// the collection schema at enqueue time.
	Payload map[string]any `json:"payload,omitempty"`

	// PayloadHash is the canonical content digest of Payload, stable
	// under key reordering. Stamped on remote documents together with
	// ID as the idempotency tag.
	PayloadHash string `json:"payload_hash"`

	Status    Status `json:"status"`
	Priority  int    `json:"priority"`
	RetryCount int   `json:"retry_count"`
	LastError string `json:"last_error,omitempty"`

	// DependencyGroup, ParentID, StepNumber and TotalSteps express
	// multi-step operations that must commit in order (for example
	// upload asset -> create invoice referencing it). Records sharing
	// a group are dispatched strictly by StepNumber.
	DependencyGroup string `json:"dependency_group,omitempty"`
	ParentID        string `json:"parent_id,omitempty"`
	StepNumber      int    `json:"step_number,omitempty"`
	TotalSteps      int    `json:"total_steps,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	SyncedAt      *time.Time `json:"synced_at,omitempty"`
}

// NewID derives the deterministic operation ID for a mutation.
//
// The ID is a SHA-256 digest over (owner, collection, document, type,
// creation instant), hex encoded and truncated to 32 characters. The
// same logical mutation always produces the same ID, which is what makes
// duplicate delivery detectable on the remote side.
func NewID(owner, collection, docID string, typ Type, at time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d", owner, collection, docID, typ, at.UTC().UnixNano())
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// New builds a pending Record for the given mutation, deriving the
// operation ID and payload hash. CreatedAt is stamped with the current
// time.
func New(owner, collection, docID string, typ Type, payload map[string]any) (*Record, error) {
	if owner == "" {
		return nil, fmt.Errorf("owner is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if docID == "" {
		return nil, fmt.Errorf("document id is required")
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("invalid operation type %q", typ)
	}

	now := time.Now().UTC()
	hash, err := HashPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to hash payload: %w", err)
	}

	return &Record{
		ID:          NewID(owner, collection, docID, typ, now),
		Type:        typ,
		Collection:  collection,
		DocumentID:  docID,
		OwnerID:     owner,
		Payload:     payload,
		PayloadHash: hash,
		Status:      StatusPending,
		Priority:    PriorityNormal,
		CreatedAt:   now,
	}, nil
}

// Validate checks structural invariants of the record. Payload content
// is validated separately against the collection schema registry.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid operation type %q", r.Type)
	}
	if r.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	if r.DocumentID == "" {
		return fmt.Errorf("document id is required")
	}
	if r.OwnerID == "" {
		return fmt.Errorf("owner id is required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if r.StepNumber > 0 && r.DependencyGroup == "" {
		return fmt.Errorf("step_number set without dependency_group")
	}
	return nil
}

// Version extracts the client-side version counter from the payload.
// Returns 0 when the payload carries no usable version.
func (r *Record) Version() int64 {
	return PayloadVersion(r.Payload)
}

// PayloadVersion reads the "version" counter from a payload map,
// tolerating the numeric types JSON decoding produces.
func PayloadVersion(payload map[string]any) int64 {
	switch v := payload["version"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
