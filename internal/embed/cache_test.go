// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package embed_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-dev/engram/internal/embed"
)

// countingEmbedder wraps the mock and counts compute calls.
type countingEmbedder struct {
	inner embed.Embedder
	mu    sync.Mutex
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func cacheDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "engram-cache-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestCachedEmbedder_HitSkipsCompute(t *testing.T) {
	counter := &countingEmbedder{inner: embed.NewMockEmbedder(8)}
	cached, err := embed.NewCachedEmbedder(counter, embed.CacheConfig{Dir: cacheDir(t)})
	require.NoError(t, err)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "hello world")
	require.NoError(t, err)

	second, err := cached.Embed(ctx, "hello world")
	require.NoError(t, err)

	// Idempotence: byte-equal vectors, one compute.
	assert.Equal(t, first, second)
	assert.Equal(t, 1, counter.calls)
}

func TestCachedEmbedder_DistinctTextsComputeSeparately(t *testing.T) {
	counter := &countingEmbedder{inner: embed.NewMockEmbedder(8)}
	cached, err := embed.NewCachedEmbedder(counter, embed.CacheConfig{Dir: cacheDir(t)})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cached.Embed(ctx, "alpha")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, 2, counter.calls)
}

func TestCachedEmbedder_DiskTierSurvivesNewProcess(t *testing.T) {
	dir := cacheDir(t)
	ctx := context.Background()

	counter1 := &countingEmbedder{inner: embed.NewMockEmbedder(8)}
	first, err := embed.NewCachedEmbedder(counter1, embed.CacheConfig{Dir: dir})
	require.NoError(t, err)
	vec, err := first.Embed(ctx, "persisted")
	require.NoError(t, err)

	// A fresh cache (cold L1) over the same dir reads L2, not compute.
	counter2 := &countingEmbedder{inner: embed.NewMockEmbedder(8)}
	second, err := embed.NewCachedEmbedder(counter2, embed.CacheConfig{Dir: dir})
	require.NoError(t, err)
	again, err := second.Embed(ctx, "persisted")
	require.NoError(t, err)

	assert.Equal(t, vec, again)
	assert.Equal(t, 0, counter2.calls)
}

func TestCachedEmbedder_DiskFileIsContentAddressed(t *testing.T) {
	dir := cacheDir(t)
	cached, err := embed.NewCachedEmbedder(embed.NewMockEmbedder(8), embed.CacheConfig{Dir: dir})
	require.NoError(t, err)

	_, err = cached.Embed(context.Background(), "hello")
	require.NoError(t, err)

	// MD5("hello") = 5d41402abc4b2a76b9719d911017c592.
	_, statErr := os.Stat(filepath.Join(dir, "5d41402abc4b2a76b9719d911017c592.vec"))
	assert.NoError(t, statErr)
}

func TestCachedEmbedder_NoDiskTier(t *testing.T) {
	counter := &countingEmbedder{inner: embed.NewMockEmbedder(8)}
	cached, err := embed.NewCachedEmbedder(counter, embed.CacheConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "memory only")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "memory only")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, counter.calls)
}

func TestCachedEmbedder_ConcurrentSameKey(t *testing.T) {
	counter := &countingEmbedder{inner: embed.NewMockEmbedder(8)}
	cached, err := embed.NewCachedEmbedder(counter, embed.CacheConfig{Dir: cacheDir(t)})
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cached.Embed(ctx, "contended")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Redundant computes are allowed; the steady state is one cached
	// value either way.
	first, err := cached.Embed(ctx, "contended")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "contended")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestKey_IsMD5Hex(t *testing.T) {
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", embed.Key("hello"))
	assert.Len(t, embed.Key("anything"), 32)
}
