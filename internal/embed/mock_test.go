// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package embed_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-dev/engram/internal/embed"
	engramerr "github.com/engram-dev/engram/pkg/errors"
)

func TestMockEmbedder_UnitVector(t *testing.T) {
	m := embed.NewMockEmbedder(16)
	vec, err := m.Embed(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, vec, 16)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
}

func TestMockEmbedder_DefaultDimensions(t *testing.T) {
	m := embed.NewMockEmbedder(0)
	assert.Equal(t, embed.LocalDimensions, m.Dimensions())
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := embed.New(embed.Options{Provider: "gremlin"})
	require.Error(t, err)
	assert.Equal(t, engramerr.CodeEmbedProviderInvalid, engramerr.CodeOf(err))
}

func TestNew_OpenAIRequiresKey(t *testing.T) {
	_, err := embed.New(embed.Options{Provider: "openai"})
	require.Error(t, err)
	assert.Equal(t, engramerr.CodeEmbedProviderInvalid, engramerr.CodeOf(err))
}

func TestNew_Mock(t *testing.T) {
	e, err := embed.New(embed.Options{Provider: "mock", Dimensions: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, e.Dimensions())
}
