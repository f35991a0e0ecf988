// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package embed

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/ristretto"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// Cache defaults per the storage contract.
const (
	DefaultCacheEntries = 10000
	DefaultCacheTTL     = 24 * time.Hour
)

// CacheConfig tunes the two-tier cache.
type CacheConfig struct {
	// Dir is the L2 content-addressed directory (one file per key).
	// Empty disables the disk tier.
	Dir string
	// MaxEntries bounds the L1 tier (default 10000).
	MaxEntries int64
	// TTL bounds L1 residency (default 24h).
	TTL time.Duration
}

// CachedEmbedder wraps an Embedder with an in-memory LRU (hot) backed
// by a content-addressed disk cache (cold). Read order: L1, L2,
// compute. Concurrent misses on one key may compute twice; the second
// writer overwrites with an equal value.
type CachedEmbedder struct {
	inner  Embedder
	l1     *ristretto.Cache
	dir    string
	ttl    time.Duration
	logger *slog.Logger
}

// Compile-time interface check.
var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with the two-tier cache.
func NewCachedEmbedder(inner Embedder, cfg CacheConfig) (*CachedEmbedder, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}

	l1, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeInternalFailure, "creating embedding cache")
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, engramerr.Wrap(err, engramerr.CodeInternalFailure, "creating embedding cache dir")
		}
	}

	return &CachedEmbedder{
		inner:  inner,
		l1:     l1,
		dir:    cfg.Dir,
		ttl:    cfg.TTL,
		logger: slog.Default(),
	}, nil
}

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Key returns the cache key for a text: the MD5 hex of its bytes.
func Key(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached vector for text, computing and populating
// both tiers on a miss. Disk failures are logged, never fatal.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := Key(text)

	if cached, ok := c.l1.Get(key); ok {
		if vec, ok := cached.([]float32); ok && len(vec) == c.inner.Dimensions() {
			return vec, nil
		}
	}

	if vec := c.readDisk(key); vec != nil {
		c.setL1(key, vec)
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.setL1(key, vec)
	c.writeDisk(key, vec)
	return vec, nil
}

func (c *CachedEmbedder) setL1(key string, vec []float32) {
	c.l1.SetWithTTL(key, vec, 1, c.ttl)
	// Ristretto applies sets asynchronously; wait so a follow-up read
	// observes the entry.
	c.l1.Wait()
}

func (c *CachedEmbedder) diskPath(key string) string {
	return filepath.Join(c.dir, key+".vec")
}

// readDisk returns the stored vector for key, or nil on any miss or
// mismatch (wrong size, unreadable, stale dimensionality).
func (c *CachedEmbedder) readDisk(key string) []float32 {
	if c.dir == "" {
		return nil
	}

	raw, err := os.ReadFile(c.diskPath(key))
	if err != nil {
		return nil
	}
	if len(raw)%4 != 0 || len(raw)/4 != c.inner.Dimensions() {
		return nil
	}

	vec := make([]float32, len(raw)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}

// writeDisk persists the vector best-effort.
func (c *CachedEmbedder) writeDisk(key string, vec []float32) {
	if c.dir == "" {
		return
	}

	raw := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}

	if err := os.WriteFile(c.diskPath(key), raw, 0o644); err != nil {
		c.logger.Warn("embedding disk cache write failed", "key", key, "error", err)
	}
}
