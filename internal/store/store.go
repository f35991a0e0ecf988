// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package store defines the domain types and backend contracts for the
// engram graph and vector stores. Backend packages register factories
// from init(); the graph store is always SQLite, while the vector store
// is selectable (sqlite-vec by default, chromem as the pure-Go option).
package store

import (
	"context"
	"fmt"
	"sync"
)

// VectorStore is the contract every vector backend satisfies: typed
// records, tenant-filtered k-NN, and delete-by-id-set for compensation.
type VectorStore interface {
	// Upsert inserts or replaces a record by ID.
	Upsert(ctx context.Context, rec VectorRecord) error
	// Search returns up to k nearest records matching the filter,
	// ordered by ascending distance.
	Search(ctx context.Context, query []float32, k int, filter VectorFilter) ([]VectorHit, error)
	// Get returns a record by ID, or nil when absent.
	Get(ctx context.Context, id string) (*VectorRecord, error)
	// Delete removes records by ID. Missing IDs are not an error.
	Delete(ctx context.Context, ids []string) error
	Close() error
}

// VectorStoreFactory creates a vector store rooted at dir with the given
// embedding dimensions.
type VectorStoreFactory func(dir string, dimensions int) (VectorStore, error)

var (
	vectorFactories = map[string]VectorStoreFactory{}
	factoriesMu     sync.RWMutex
)

// RegisterVectorBackend registers a factory for a named vector backend.
// Backend packages call this from init(). Goroutine-safe.
func RegisterVectorBackend(name string, factory VectorStoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	vectorFactories[name] = factory
}

// NewVectorStore creates the vector store for the named backend,
// defaulting to "sqlite".
func NewVectorStore(backend, dir string, dimensions int) (VectorStore, error) {
	if backend == "" {
		backend = "sqlite"
	}

	factoriesMu.RLock()
	factory, ok := vectorFactories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported vector backend: %q", backend)
	}

	return factory(dir, dimensions)
}
