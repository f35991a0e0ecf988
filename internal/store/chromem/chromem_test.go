// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package chromem_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-dev/engram/internal/store"
	"github.com/engram-dev/engram/internal/store/chromem"
)

func testStore(t *testing.T) *chromem.VectorStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "engram-chromem-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	vs, err := chromem.NewVectorStore(dir, 3)
	require.NoError(t, err)
	return vs
}

func rec(id, tenant string, vec []float32) store.VectorRecord {
	return store.VectorRecord{ID: id, Vector: vec, Text: "text " + id, Tenant: tenant, Timestamp: 1000, NodeName: "mem-" + id}
}

func TestVectorStore_UpsertSearch(t *testing.T) {
	vs := testStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, rec("v1", "u1", []float32{1, 0, 0})))
	require.NoError(t, vs.Upsert(ctx, rec("v2", "u1", []float32{0, 1, 0})))

	hits, err := vs.Search(ctx, []float32{1, 0, 0}, 1, store.VectorFilter{Tenant: "u1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "v1", hits[0].Record.ID)
	assert.Equal(t, "mem-v1", hits[0].Record.NodeName)
}

func TestVectorStore_TenantIsolation(t *testing.T) {
	vs := testStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, rec("v1", "u1", []float32{1, 0, 0})))

	hits, err := vs.Search(ctx, []float32{1, 0, 0}, 5, store.VectorFilter{Tenant: "u2"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorStore_Delete(t *testing.T) {
	vs := testStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, rec("v1", "u1", []float32{1, 0, 0})))
	require.NoError(t, vs.Delete(ctx, []string{"v1"}))

	hits, err := vs.Search(ctx, []float32{1, 0, 0}, 1, store.VectorFilter{Tenant: "u1"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorStore_Get(t *testing.T) {
	vs := testStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, rec("v1", "u1", []float32{1, 0, 0})))

	got, err := vs.Get(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.Tenant)
	assert.EqualValues(t, 1000, got.Timestamp)

	missing, err := vs.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestVectorStore_DimensionMismatch(t *testing.T) {
	vs := testStore(t)
	err := vs.Upsert(context.Background(), rec("v1", "u1", []float32{1, 0}))
	require.Error(t, err)
}

func TestVectorStore_FactoryRegistration(t *testing.T) {
	dir, err := os.MkdirTemp("", "engram-chromem-factory-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	vs, err := store.NewVectorStore("chromem", dir, 3)
	require.NoError(t, err)
	require.NoError(t, vs.Upsert(context.Background(), rec("v1", "u1", []float32{1, 0, 0})))
}
