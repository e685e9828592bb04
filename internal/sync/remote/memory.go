package remote

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory Store with the same concurrency semantics as
// the real backend. It backs the engine and processor tests and serves
// as the remote during local development.
type MemStore struct {
	mu     sync.Mutex
	docs   map[memKey]*Document
	assets map[string][]byte

	// failNext, when non-empty, makes the next store call fail with an
	// error of the given kind. Fault injection for tests.
	failNext []Kind

	now func() time.Time
}

type memKey struct {
	owner, collection, id string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		docs:   make(map[memKey]*Document),
		assets: make(map[string][]byte),
		now:    time.Now,
	}
}

// FailNext queues injected failures: each subsequent store call consumes
// one kind from the list and fails with it.
func (m *MemStore) FailNext(kinds ...Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = append(m.failNext, kinds...)
}

// takeFault consumes one injected failure if queued. Caller holds mu.
func (m *MemStore) takeFault() error {
	if len(m.failNext) == 0 {
		return nil
	}
	kind := m.failNext[0]
	m.failNext = m.failNext[1:]
	return NewError(kind, fmt.Errorf("injected %s failure", kind))
}

// Get implements Store.
func (m *MemStore) Get(ctx context.Context, owner, collection, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFault(); err != nil {
		return nil, err
	}

	doc, ok := m.docs[memKey{owner, collection, id}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	cp.Fields = copyFields(doc.Fields)
	return &cp, nil
}

// Create implements Store.
func (m *MemStore) Create(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFault(); err != nil {
		return err
	}

	key := memKey{doc.OwnerID, doc.Collection, doc.ID}
	if _, exists := m.docs[key]; exists {
		return ErrVersionMismatch
	}

	cp := *doc
	cp.Fields = copyFields(doc.Fields)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = m.now()
	}
	m.docs[key] = &cp
	return nil
}

// CompareAndPut implements Store.
func (m *MemStore) CompareAndPut(ctx context.Context, doc *Document, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFault(); err != nil {
		return err
	}

	key := memKey{doc.OwnerID, doc.Collection, doc.ID}
	cur, ok := m.docs[key]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionMismatch
	}

	cp := *doc
	cp.Fields = copyFields(doc.Fields)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = m.now()
	}
	m.docs[key] = &cp
	return nil
}

// SoftDelete implements Store.
func (m *MemStore) SoftDelete(ctx context.Context, owner, collection, id string, at time.Time, tag Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFault(); err != nil {
		return err
	}

	doc, ok := m.docs[memKey{owner, collection, id}]
	if !ok {
		// Deleting what was never pushed is a success: the end state
		// (document absent/deleted) already holds.
		return nil
	}
	doc.Deleted = true
	doc.DeletedAt = &at
	doc.UpdatedAt = at
	doc.Tag = tag
	doc.Version++
	return nil
}

// UploadAsset implements Store.
func (m *MemStore) UploadAsset(ctx context.Context, owner, assetID string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFault(); err != nil {
		return err
	}

	key := owner + "/" + assetID
	if _, exists := m.assets[key]; exists {
		return nil // idempotent by asset ID
	}
	m.assets[key] = append([]byte(nil), content...)
	return nil
}

// Changes implements Store.
func (m *MemStore) Changes(ctx context.Context, owner string, since time.Time) (*Changes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFault(); err != nil {
		return nil, err
	}

	out := &Changes{ServerTime: m.now()}
	for key, doc := range m.docs {
		if key.owner != owner {
			continue
		}
		if !doc.UpdatedAt.After(since) {
			continue
		}
		cp := *doc
		cp.Fields = copyFields(doc.Fields)
		out.Documents = append(out.Documents, cp)
	}
	return out, nil
}

// AssetCount returns the number of stored assets. Test helper.
func (m *MemStore) AssetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.assets)
}

// Put inserts or replaces a document directly, bypassing version checks.
// Test helper for seeding remote state.
func (m *MemStore) Put(doc *Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *doc
	cp.Fields = copyFields(doc.Fields)
	m.docs[memKey{doc.OwnerID, doc.Collection, doc.ID}] = &cp
}

func copyFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return cp
}
