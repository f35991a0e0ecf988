// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package embed

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// MockEmbedder generates unit vectors from a cryptographically secure
// RNG. It exists for tests and offline development; the serve path
// refuses it unless explicitly allowed, so production never mocks.
type MockEmbedder struct {
	dimensions int
}

// Compile-time interface check.
var _ Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a mock embedder of the given dimension
// (default LocalDimensions).
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = LocalDimensions
	}
	return &MockEmbedder{dimensions: dimensions}
}

func (m *MockEmbedder) Dimensions() int { return m.dimensions }

// Embed returns a fresh random unit vector. Two calls for the same text
// differ; idempotence is the cache's job, not the mock's.
func (m *MockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	buf := make([]byte, m.dimensions*4)
	if _, err := crand.Read(buf); err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeEmbedUpstreamFailure, "reading random bytes")
	}

	vec := make([]float32, m.dimensions)
	for i := range vec {
		u := binary.LittleEndian.Uint32(buf[i*4:])
		vec[i] = float32(float64(u)/math.MaxUint32*2 - 1)
	}
	return normalize(vec), nil
}

// normalize scales a vector to unit length.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
