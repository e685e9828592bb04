// Package remote abstracts the multi-tenant authoritative store that
// local mutations are reconciled against.
//
// The store speaks documents with optimistic version numbers and
// idempotency tags. Two implementations exist: HTTPStore for the real
// backend and MemStore for tests and local development. The package also
// owns the failure taxonomy used by the engine to decide between retry,
// conflict routing, and dropping an operation.
package remote

import (
	"context"
	"time"
)

// Tag is the idempotency tag stamped on every remotely written document:
// the operation that produced the current content and that payload's
// digest. A processor seeing its own operation ID already on the remote
// document knows the write landed on a previous delivery.
type Tag struct {
	OperationID string `json:"operation_id"`
	PayloadHash string `json:"payload_hash"`
}

// Document is one versioned record in the remote store.
type Document struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	OwnerID    string `json:"owner_id"`

	Fields map[string]any `json:"fields"`

	// Version is the optimistic concurrency counter. Writes carry the
	// version they expect; a clash raises ErrVersionMismatch.
	Version int64 `json:"version"`

	UpdatedAt time.Time `json:"updated_at"`

	// Deleted and DeletedAt realize soft deletion. Documents are never
	// physically removed so audit history survives.
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	Tag Tag `json:"tag"`
}

// Changes is one incremental pull result: documents modified after the
// requested checkpoint, plus the server timestamp to persist as the next
// checkpoint.
type Changes struct {
	Documents []Document `json:"documents"`
	ServerTime time.Time `json:"server_time"`
}

// Store is the remote document store the Task Processor applies
// operations against.
//
// Every method takes a context carrying a bounded deadline; exceeding it
// is classified as a network failure. Implementations must scope all
// reads and writes to the given owner: a document is only ever visible
// to its own tenant.
type Store interface {
	// Get returns the document, ErrNotFound if absent.
	Get(ctx context.Context, owner, collection, id string) (*Document, error)

	// Create inserts a new document. Fails with ErrVersionMismatch if
	// the document already exists.
	Create(ctx context.Context, doc *Document) error

	// CompareAndPut overwrites the document if its current remote
	// version equals expectedVersion, returning ErrVersionMismatch
	// otherwise. This is the only write path for updates; it is what
	// makes the apply protocol safe under concurrent writers.
	CompareAndPut(ctx context.Context, doc *Document, expectedVersion int64) error

	// SoftDelete marks the document deleted at the given instant and
	// stamps the tag. Deleting an absent document is not an error.
	SoftDelete(ctx context.Context, owner, collection, id string, at time.Time, tag Tag) error

	// UploadAsset stores binary content under the asset ID. Uploading
	// the same ID twice is a no-op success.
	UploadAsset(ctx context.Context, owner, assetID string, content []byte) error

	// Changes returns documents of the owner modified strictly after
	// since, with the server timestamp for checkpoint advancement.
	Changes(ctx context.Context, owner string, since time.Time) (*Changes, error)
}
