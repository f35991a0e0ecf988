// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package extract

import (
	"context"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

const summarySystemPrompt = `You answer a question from retrieved memory fragments.
Synthesize a short, direct answer grounded only in the fragments.
If the fragments do not answer the question, say so.`

const summaryMaxTokens = 512

// AnthropicConfig holds summarizer configuration.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string // defaults to claude-haiku-4-5
}

// AnthropicSummarizer synthesizes hybrid-search answers through the
// Anthropic Messages API.
type AnthropicSummarizer struct {
	client anthropicsdk.Client
	model  anthropicsdk.Model
}

// Compile-time interface check.
var _ Summarizer = (*AnthropicSummarizer)(nil)

// NewAnthropicSummarizer creates the summarizer. The API key is
// required.
func NewAnthropicSummarizer(cfg AnthropicConfig) (*AnthropicSummarizer, error) {
	if cfg.APIKey == "" {
		return nil, engramerr.New(engramerr.CodeSummaryUpstreamFailure,
			"anthropic summarizer requires an api key")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := anthropicsdk.Model("claude-haiku-4-5")
	if cfg.Model != "" {
		model = anthropicsdk.Model(cfg.Model)
	}

	return &AnthropicSummarizer{client: anthropicsdk.NewClient(opts...), model: model}, nil
}

// Summarize renders the fragments and question into one completion and
// returns the sanitized text.
func (s *AnthropicSummarizer) Summarize(ctx context.Context, query string, fragments []string) (string, error) {
	if len(fragments) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nFragments:\n")
	for i, frag := range fragments {
		b.WriteString("- ")
		b.WriteString(frag)
		if i < len(fragments)-1 {
			b.WriteString("\n")
		}
	}

	msg, err := s.client.Messages.New(ctx, anthropicsdk.MessageNewParams{
		Model:     s.model,
		MaxTokens: summaryMaxTokens,
		System: []anthropicsdk.TextBlockParam{
			{Text: summarySystemPrompt},
		},
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		return "", engramerr.Wrap(err, engramerr.CodeSummaryUpstreamFailure, "requesting summary")
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return Sanitize(out.String()), nil
}
