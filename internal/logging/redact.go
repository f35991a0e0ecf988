// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package logging configures the process logger. Every record passes
// through a redaction filter so API keys never reach the log sink.
package logging

import (
	"context"
	"io"
	"log/slog"
	"regexp"
)

// secretPattern matches provider API keys (sk-... style tokens).
var secretPattern = regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`)

const redactedPlaceholder = "[REDACTED]"

// Redact replaces secret-shaped tokens in s with a placeholder.
func Redact(s string) string {
	return secretPattern.ReplaceAllString(s, redactedPlaceholder)
}

// RedactingHandler wraps a slog.Handler, redacting secret-shaped tokens
// from the message and every string attribute before emission.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps inner with secret redaction.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, Redact(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cleaned := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		cleaned[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(cleaned)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, Redact(a.Value.String()))
	case slog.KindGroup:
		members := a.Value.Group()
		cleaned := make([]any, 0, len(members))
		for _, m := range members {
			cleaned = append(cleaned, redactAttr(m))
		}
		return slog.Group(a.Key, cleaned...)
	default:
		return a
	}
}

// Setup installs the default process logger: a text handler on w at the
// given level, behind the redaction filter.
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := NewRedactingHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
