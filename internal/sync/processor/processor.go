// Package processor applies a single Operation Record against the
// remote store. It owns the idempotent apply protocol: every remote
// write carries the record's identity tag, so a redelivered record
// that already landed is recognized and reported as success instead of
// being applied twice.
package processor

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/kedarsarang7-eng/ledgersync/internal/sync/conflict"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/op"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/remote"
)

// Processor applies operations to a remote store.
type Processor struct {
	store remote.Store
	now   func() time.Time
}

// New creates a processor backed by the given remote store.
func New(store remote.Store) *Processor {
	return &Processor{store: store, now: time.Now}
}

// NewWithClock is like New with an injected clock.
func NewWithClock(store remote.Store, now func() time.Time) *Processor {
	return &Processor{store: store, now: now}
}

// Outcome reports how a single apply attempt ended. Exactly one of the
// three shapes holds: plain success (Conflict and Err nil), a detected
// version conflict (Conflict set, Err nil), or a failure (Err set).
type Outcome struct {
	// Conflict is set when the remote document moved under a
	// different operation and the divergence needs resolution rather
	// than a retry.
	Conflict *conflict.Conflict

	// AlreadyApplied reports that the remote already carried this
	// record's tag, i.e. a redelivery was absorbed.
	AlreadyApplied bool

	Err error
}

// Apply executes one record against the remote store.
//
// The protocol per operation type:
//
//	create: absent document is written at version 1 under this
//	        record's tag. A document already tagged by this record is
//	        a redelivery, success. An untagged or foreign-tagged
//	        document means the create raced something else; the record
//	        falls through to update semantics.
//	update: the remote document is read, its version compared against
//	        the payload's. A remote at or past the payload version
//	        under a foreign tag is a conflict. Otherwise the write
//	        goes through CompareAndPut keyed on the version just read.
//	delete: soft-delete flag and timestamp under this record's tag.
//	        An absent remote document is success.
//	upload_asset: content handed to the remote store, idempotent by
//	        asset ID.
func (p *Processor) Apply(ctx context.Context, rec *op.Record) Outcome {
	switch rec.Type {
	case op.TypeCreate:
		return p.applyCreate(ctx, rec)
	case op.TypeUpdate:
		return p.applyUpdate(ctx, rec)
	case op.TypeDelete:
		return p.applyDelete(ctx, rec)
	case op.TypeUploadAsset:
		return p.applyUpload(ctx, rec)
	default:
		return Outcome{Err: remote.NewError(remote.KindValidation,
			fmt.Errorf("unknown operation type %q", rec.Type))}
	}
}

func (p *Processor) applyCreate(ctx context.Context, rec *op.Record) Outcome {
	existing, err := p.store.Get(ctx, rec.OwnerID, rec.Collection, rec.DocumentID)
	if err == nil {
		if existing.Tag.OperationID == rec.ID {
			return Outcome{AlreadyApplied: true}
		}
		// Someone else created it first; treat as an update of the
		// existing document.
		return p.applyUpdate(ctx, rec)
	}
	if !remote.IsNotFound(err) {
		return Outcome{Err: fmt.Errorf("create %s/%s: %w", rec.Collection, rec.DocumentID, err)}
	}

	doc := p.document(rec)
	doc.Version = 1
	if err := p.store.Create(ctx, doc); err != nil {
		if remote.Classify(err) == remote.KindConflict {
			// Lost a create race between the read and the write.
			return p.applyUpdate(ctx, rec)
		}
		return Outcome{Err: fmt.Errorf("create %s/%s: %w", rec.Collection, rec.DocumentID, err)}
	}
	return Outcome{}
}

func (p *Processor) applyUpdate(ctx context.Context, rec *op.Record) Outcome {
	existing, err := p.store.Get(ctx, rec.OwnerID, rec.Collection, rec.DocumentID)
	if remote.IsNotFound(err) {
		// Update of a document the remote never saw: write it fresh.
		doc := p.document(rec)
		doc.Version = 1
		if createErr := p.store.Create(ctx, doc); createErr != nil {
			return Outcome{Err: fmt.Errorf("update %s/%s: %w", rec.Collection, rec.DocumentID, createErr)}
		}
		return Outcome{}
	}
	if err != nil {
		return Outcome{Err: fmt.Errorf("update %s/%s: %w", rec.Collection, rec.DocumentID, err)}
	}

	if existing.Tag.OperationID == rec.ID && existing.Tag.PayloadHash == rec.PayloadHash {
		return Outcome{AlreadyApplied: true}
	}

	payloadVersion := rec.Version()
	if existing.Version >= payloadVersion && existing.Tag.OperationID != rec.ID {
		// The remote advanced past this record under another
		// operation: a genuine divergence, not a transient failure.
		return Outcome{Conflict: p.Divergence(rec, existing)}
	}

	doc := p.document(rec)
	// The version never jumps past the remote's lineage even if the
	// payload claims a higher number.
	doc.Version = payloadVersion
	if next := existing.Version + 1; doc.Version > next {
		doc.Version = next
	}

	if err := p.store.CompareAndPut(ctx, doc, existing.Version); err != nil {
		if remote.Classify(err) == remote.KindConflict {
			// The document moved between our read and write. Re-read
			// to build an accurate conflict picture.
			fresh, getErr := p.store.Get(ctx, rec.OwnerID, rec.Collection, rec.DocumentID)
			if getErr == nil {
				return Outcome{Conflict: p.Divergence(rec, fresh)}
			}
		}
		return Outcome{Err: fmt.Errorf("update %s/%s: %w", rec.Collection, rec.DocumentID, err)}
	}
	return Outcome{}
}

func (p *Processor) applyDelete(ctx context.Context, rec *op.Record) Outcome {
	tag := remote.Tag{OperationID: rec.ID, PayloadHash: rec.PayloadHash}
	err := p.store.SoftDelete(ctx, rec.OwnerID, rec.Collection, rec.DocumentID, p.now().UTC(), tag)
	if err != nil && !remote.IsNotFound(err) {
		return Outcome{Err: fmt.Errorf("delete %s/%s: %w", rec.Collection, rec.DocumentID, err)}
	}
	return Outcome{}
}

func (p *Processor) applyUpload(ctx context.Context, rec *op.Record) Outcome {
	encoded, ok := rec.Payload["content"].(string)
	if !ok {
		return Outcome{Err: remote.NewError(remote.KindValidation,
			fmt.Errorf("asset %s has no content field", rec.DocumentID))}
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Outcome{Err: remote.NewError(remote.KindValidation,
			fmt.Errorf("asset %s content is not base64: %w", rec.DocumentID, err))}
	}

	if err := p.store.UploadAsset(ctx, rec.OwnerID, rec.DocumentID, content); err != nil {
		return Outcome{Err: fmt.Errorf("upload asset %s: %w", rec.DocumentID, err)}
	}
	return Outcome{}
}

// document builds the remote shape of a record's payload, stamped with
// the record's identity tag.
func (p *Processor) document(rec *op.Record) *remote.Document {
	fields := make(map[string]any, len(rec.Payload))
	for k, v := range rec.Payload {
		if k == "version" {
			continue
		}
		fields[k] = v
	}
	return &remote.Document{
		ID:         rec.DocumentID,
		Collection: rec.Collection,
		OwnerID:    rec.OwnerID,
		Fields:     fields,
		UpdatedAt:  p.now().UTC(),
		Tag:        remote.Tag{OperationID: rec.ID, PayloadHash: rec.PayloadHash},
	}
}

// Divergence builds the conflict picture for a record against the
// remote document that outpaced it. The engine also uses it to restore
// conflicts parked in the queue by an earlier process.
func (p *Processor) Divergence(rec *op.Record, existing *remote.Document) *conflict.Conflict {
	c := conflict.New(rec.ID, rec.OwnerID, rec.Collection, rec.DocumentID)
	c.DeviceID = rec.DeviceID
	c.LocalPayload = rec.Payload
	c.LocalVersion = rec.Version()
	c.LocalUpdatedAt = rec.CreatedAt
	c.RemotePayload = existing.Fields
	c.RemoteVersion = existing.Version
	c.RemoteUpdatedAt = existing.UpdatedAt
	c.DetectedAt = p.now().UTC()
	return c
}
