// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package extract

import (
	"context"
	"log/slog"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

const extractionSystemPrompt = `You extract knowledge-graph fragments from text.
Respond with a JSON object of the form:
{"entities": [{"name": "...", "type": "..."}], "relationships": [{"from": "...", "to": "...", "type": "..."}]}
Entity names are short identifiers using only letters, digits, underscore, and dash.
Relationship types are single lowercase verbs. Return empty arrays when nothing is present.`

// OpenAIConfig holds extractor configuration.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string // defaults to gpt-4.1-mini
}

// OpenAIExtractor derives entities and relationships through a chat
// completion in JSON mode.
type OpenAIExtractor struct {
	client openaisdk.Client
	model  shared.ChatModel
	logger *slog.Logger
}

// Compile-time interface check.
var _ Extractor = (*OpenAIExtractor)(nil)

// NewOpenAIExtractor creates the extractor. The API key is required.
func NewOpenAIExtractor(cfg OpenAIConfig) (*OpenAIExtractor, error) {
	if cfg.APIKey == "" {
		return nil, engramerr.New(engramerr.CodeExtractUpstreamFailure,
			"openai extractor requires an api key")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := shared.ChatModel("gpt-4.1-mini")
	if cfg.Model != "" {
		model = shared.ChatModel(cfg.Model)
	}

	return &OpenAIExtractor{
		client: openaisdk.NewClient(opts...),
		model:  model,
		logger: slog.Default(),
	}, nil
}

// Extract runs one JSON-mode completion. Transport failures surface to
// the caller (the breaker counts them); malformed output degrades to an
// empty extraction so the memory stays usable.
func (e *OpenAIExtractor) Extract(ctx context.Context, text string) (*Extraction, error) {
	resp, err := e.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: e.model,
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(extractionSystemPrompt),
			openaisdk.UserMessage(text),
		},
		ResponseFormat: openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeExtractUpstreamFailure,
			"requesting extraction")
	}
	if len(resp.Choices) == 0 {
		return nil, engramerr.New(engramerr.CodeExtractUpstreamFailure,
			"extraction response carried no choices")
	}

	out, err := ParseExtraction(resp.Choices[0].Message.Content)
	if err != nil {
		e.logger.Warn("tolerating unparseable extraction output", "error", err)
		return &Extraction{}, nil
	}
	return out, nil
}
