// Package conflict captures and resolves divergence between local and
// remote document state.
//
// A conflict exists only when a different writer advanced the remote
// version past what the local payload expected. Resolution is explicit:
// an operator or policy picks a strategy, and the resolved payload
// re-enters the sync queue as a fresh operation. Until then, forward
// sync is paused for the conflicted document alone.
package conflict

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Conflict is an ephemeral record of one detected divergence. It is not
// a queue item; it is surfaced on the engine's conflict stream and
// consumed exactly once by resolution.
type Conflict struct {
	// ID identifies this conflict instance for ResolveConflict calls.
	ID string `json:"id"`

	// OperationID is the local operation whose dispatch detected the
	// clash.
	OperationID string `json:"operation_id"`

	Collection string `json:"collection"`
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	DeviceID   string `json:"device_id,omitempty"`

	LocalPayload  map[string]any `json:"local_payload"`
	RemotePayload map[string]any `json:"remote_payload"`

	LocalVersion  int64 `json:"local_version"`
	RemoteVersion int64 `json:"remote_version"`

	LocalUpdatedAt  time.Time `json:"local_updated_at"`
	RemoteUpdatedAt time.Time `json:"remote_updated_at"`

	DetectedAt time.Time `json:"detected_at"`
}

// New builds a conflict record with a fresh ID and detection timestamp.
func New(opID, owner, collection, docID string) *Conflict {
	return &Conflict{
		ID:          uuid.NewString(),
		OperationID: opID,
		OwnerID:     owner,
		Collection:  collection,
		DocumentID:  docID,
		DetectedAt:  time.Now().UTC(),
	}
}

// Strategy selects how a conflict is closed.
type Strategy string

const (
	// KeepLocal overwrites remote with the local payload at version
	// max(local, remote)+1.
	KeepLocal Strategy = "keep_local"

	// KeepRemote discards the local change and pulls the remote
	// payload into the local store.
	KeepRemote Strategy = "keep_remote"

	// Merge combines both payloads field by field with the remote as
	// base; see Resolve for the exact rules.
	Merge Strategy = "merge"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case KeepLocal, KeepRemote, Merge:
		return true
	}
	return false
}

// Resolution is the outcome of resolving one conflict.
type Resolution struct {
	// Payload is the resolved document content to re-enqueue. Nil when
	// PullRemote is set.
	Payload map[string]any

	// Version is the version counter the resolved payload carries.
	Version int64

	// PullRemote indicates the local store must adopt the remote
	// payload instead of pushing anything.
	PullRemote bool
}

// Resolve applies a strategy to a conflict. critical lists the fields
// that always resolve to the remote value under Merge (monetary totals,
// payment state) regardless of timestamps.
func Resolve(c *Conflict, strategy Strategy, critical []string) (*Resolution, error) {
	switch strategy {
	case KeepLocal:
		payload := copyPayload(c.LocalPayload)
		version := c.LocalVersion
		if c.RemoteVersion > version {
			version = c.RemoteVersion
		}
		version++
		payload["version"] = version
		return &Resolution{Payload: payload, Version: version}, nil

	case KeepRemote:
		return &Resolution{PullRemote: true}, nil

	case Merge:
		payload := mergePayloads(c, critical)
		version := c.RemoteVersion + 1
		payload["version"] = version
		return &Resolution{Payload: payload, Version: version}, nil

	default:
		return nil, fmt.Errorf("unknown resolution strategy %q", strategy)
	}
}

// mergePayloads implements the field-level merge heuristic:
//
//   - remote is the base
//   - fields present only locally are kept
//   - for overlapping fields, local wins only if the local modification
//     time is strictly newer AND the field is not critical
//   - critical fields always take the remote value
func mergePayloads(c *Conflict, critical []string) map[string]any {
	crit := make(map[string]bool, len(critical))
	for _, f := range critical {
		crit[f] = true
	}
	localNewer := c.LocalUpdatedAt.After(c.RemoteUpdatedAt)

	merged := copyPayload(c.RemotePayload)
	for field, localVal := range c.LocalPayload {
		if field == "version" {
			continue // version is recomputed by Resolve
		}
		if crit[field] {
			continue
		}
		if _, inRemote := c.RemotePayload[field]; !inRemote {
			merged[field] = localVal
			continue
		}
		if localNewer {
			merged[field] = localVal
		}
	}
	return merged
}

func copyPayload(payload map[string]any) map[string]any {
	cp := make(map[string]any, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	return cp
}
