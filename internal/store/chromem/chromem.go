// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package chromem implements the vector store on chromem-go, a pure-Go
// embedded vector database. It is the cgo-free alternative to the
// sqlite-vec backend; each tenant maps to its own collection.
package chromem

import (
	"context"
	"strconv"
	"sync"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/engram-dev/engram/internal/store"
	engramerr "github.com/engram-dev/engram/pkg/errors"
)

func init() {
	store.RegisterVectorBackend("chromem", func(dir string, dimensions int) (store.VectorStore, error) {
		return NewVectorStore(dir, dimensions)
	})
}

// Compile-time interface check.
var _ store.VectorStore = (*VectorStore)(nil)

const collectionPrefix = "tenant_"

// VectorStore stores one chromem collection per tenant under dir.
type VectorStore struct {
	db         *chromemgo.DB
	dimensions int
	mu         sync.RWMutex
	cols       map[string]*chromemgo.Collection
}

// NewVectorStore opens (or creates) a persistent chromem database
// rooted at dir.
func NewVectorStore(dir string, dimensions int) (*VectorStore, error) {
	if dimensions <= 0 {
		return nil, engramerr.Errorf(engramerr.CodeVectorBackendInvalid,
			"vector dimensions must be positive (got %d)", dimensions)
	}

	db, err := chromemgo.NewPersistentDB(dir, false)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "opening chromem db")
	}

	return &VectorStore{db: db, dimensions: dimensions, cols: make(map[string]*chromemgo.Collection)}, nil
}

// collection returns the tenant's collection, creating it on first use.
func (v *VectorStore) collection(tenant string) (*chromemgo.Collection, error) {
	v.mu.RLock()
	col, ok := v.cols[tenant]
	v.mu.RUnlock()
	if ok {
		return col, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if col, ok := v.cols[tenant]; ok {
		return col, nil
	}

	// Embeddings are always supplied by the caller, so no embedding
	// function is configured (default cosine distance applies).
	col, err := v.db.GetOrCreateCollection(collectionPrefix+tenant, nil, nil)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeVectorDatabaseFailure,
			"creating collection for tenant %s", tenant)
	}
	v.cols[tenant] = col
	return col, nil
}

// Upsert inserts or replaces a record in its tenant's collection.
func (v *VectorStore) Upsert(ctx context.Context, rec store.VectorRecord) error {
	if len(rec.Vector) != v.dimensions {
		return engramerr.Errorf(engramerr.CodeVectorBackendInvalid,
			"vector has %d dimensions, store expects %d", len(rec.Vector), v.dimensions)
	}

	col, err := v.collection(rec.Tenant)
	if err != nil {
		return err
	}

	meta := map[string]string{
		"tenant":    rec.Tenant,
		"timestamp": strconv.FormatInt(rec.Timestamp, 10),
		"node_name": rec.NodeName,
		"metadata":  rec.Metadata,
	}

	doc := chromemgo.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: rec.Vector,
		Metadata:  meta,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return engramerr.Wrapf(err, engramerr.CodeVectorDatabaseFailure, "adding document %s", rec.ID)
	}
	return nil
}

// Search runs cosine k-NN inside the tenant's collection, converting
// chromem similarities (higher = closer) to distances.
func (v *VectorStore) Search(ctx context.Context, query []float32, k int, filter store.VectorFilter) ([]store.VectorHit, error) {
	if filter.Tenant == "" {
		return nil, engramerr.New(engramerr.CodeVectorBackendInvalid, "vector search requires a tenant")
	}
	if k <= 0 {
		k = 5
	}

	col, err := v.collection(filter.Tenant)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "querying collection")
	}

	hits := make([]store.VectorHit, 0, len(results))
	for _, res := range results {
		rec := recordFromDoc(res.ID, res.Content, res.Metadata)
		if filter.SinceUnix > 0 && rec.Timestamp < filter.SinceUnix {
			continue
		}
		if filter.UntilUnix > 0 && rec.Timestamp > filter.UntilUnix {
			continue
		}
		hits = append(hits, store.VectorHit{
			Record:   rec,
			Distance: float64(1 - res.Similarity),
		})
	}
	return hits, nil
}

// Get scans the tenant collections for a record by ID.
func (v *VectorStore) Get(ctx context.Context, id string) (*store.VectorRecord, error) {
	for _, col := range v.allCollections() {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			continue // not in this collection
		}
		rec := recordFromDoc(doc.ID, doc.Content, doc.Metadata)
		rec.Vector = doc.Embedding
		return &rec, nil
	}
	return nil, nil
}

// Delete removes records by ID from whichever collections hold them.
func (v *VectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	for _, col := range v.allCollections() {
		if err := col.Delete(ctx, nil, nil, ids...); err != nil {
			return engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "deleting documents")
		}
	}
	return nil
}

// Close is a no-op: chromem persists on write.
func (v *VectorStore) Close() error { return nil }

func (v *VectorStore) allCollections() []*chromemgo.Collection {
	v.mu.RLock()
	defer v.mu.RUnlock()
	cols := make([]*chromemgo.Collection, 0, len(v.cols))
	for _, col := range v.cols {
		cols = append(cols, col)
	}
	return cols
}

func recordFromDoc(id, content string, meta map[string]string) store.VectorRecord {
	ts, _ := strconv.ParseInt(meta["timestamp"], 10, 64)
	return store.VectorRecord{
		ID:        id,
		Text:      content,
		Tenant:    meta["tenant"],
		Timestamp: ts,
		NodeName:  meta["node_name"],
		Metadata:  meta["metadata"],
	}
}
