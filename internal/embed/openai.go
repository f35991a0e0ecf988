// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package embed

import (
	"context"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// OpenAIConfig holds remote embedder configuration.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string // defaults to text-embedding-3-small
}

// OpenAIEmbedder produces 1536-dimension vectors via the OpenAI
// embeddings API.
type OpenAIEmbedder struct {
	client openaisdk.Client
	model  openaisdk.EmbeddingModel
}

// Compile-time interface check.
var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates the remote embedder. The API key is
// required; there is no fallback path.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, engramerr.New(engramerr.CodeEmbedProviderInvalid,
			"openai embedder requires an api key")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := openaisdk.EmbeddingModelTextEmbedding3Small
	if cfg.Model != "" {
		model = openaisdk.EmbeddingModel(cfg.Model)
	}

	return &OpenAIEmbedder{client: openaisdk.NewClient(opts...), model: model}, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return RemoteDimensions }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model: e.model,
	})
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeEmbedUpstreamFailure, "requesting embedding")
	}
	if len(resp.Data) == 0 {
		return nil, engramerr.New(engramerr.CodeEmbedUpstreamFailure, "embedding response carried no data")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	if len(vec) != RemoteDimensions {
		return nil, engramerr.Errorf(engramerr.CodeEmbedUpstreamFailure,
			"embedding has %d dimensions, expected %d", len(vec), RemoteDimensions)
	}
	return vec, nil
}
