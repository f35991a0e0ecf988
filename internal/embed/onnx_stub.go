//go:build !onnx

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package embed

import (
	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// LocalConfig holds local (onnx) embedder configuration.
type LocalConfig struct {
	ModelPath   string
	VocabPath   string
	LibraryPath string
}

// NewLocalEmbedder fails when the binary was built without the onnx
// tag: selecting the local provider is an error, never a silent mock.
func NewLocalEmbedder(_ LocalConfig) (Embedder, error) {
	return nil, engramerr.New(engramerr.CodeEmbedProviderInvalid,
		"local embedder unavailable: rebuild with -tags onnx")
}
