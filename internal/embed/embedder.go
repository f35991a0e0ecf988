// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package embed turns text into fixed-dimension vectors. Providers:
// openai (remote, 1536), local (onnx MiniLM, 384, opt-in build tag),
// and mock (crypto/rand, tests only). Production providers surface
// their errors; nothing silently falls back to randomness.
package embed

import (
	"context"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// Provider dimensions.
const (
	LocalDimensions  = 384
	RemoteDimensions = 1536
)

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Options selects and configures a provider.
type Options struct {
	Provider   string // "openai", "local", or "mock"
	APIKey     string // openai only
	BaseURL    string // openai only, useful against a mock server
	Dimensions int    // mock only; providers fix their own
	ModelPath  string // local only
	VocabPath  string // local only
}

// New constructs the configured embedding provider.
func New(opts Options) (Embedder, error) {
	switch opts.Provider {
	case "openai":
		e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: opts.APIKey, BaseURL: opts.BaseURL})
		return e, err
	case "local":
		e, err := NewLocalEmbedder(LocalConfig{ModelPath: opts.ModelPath, VocabPath: opts.VocabPath})
		return e, err
	case "mock":
		return NewMockEmbedder(opts.Dimensions), nil
	default:
		return nil, engramerr.Errorf(engramerr.CodeEmbedProviderInvalid,
			"unknown embedder provider %q (want openai, local, or mock)", opts.Provider)
	}
}
