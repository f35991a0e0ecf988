// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package errors defines the engram error taxonomy on top of samber/oops.
// Codes follow the form component.operation.reason; the reason segment
// drives classification (retryability, user rendering).
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeValidateNameInvalid   Code = "validate.name.invalid_input"
	CodeValidateTenantInvalid Code = "validate.tenant.invalid_input"
	CodeValidateInputInvalid  Code = "validate.request.invalid_input"

	CodeGraphNodeNotFound    Code = "store.graph.get.not_found"
	CodeGraphCreateConflict  Code = "store.graph.create.conflict"
	CodeGraphDatabaseFailure Code = "store.graph.database_failure"
	CodeGraphQueryFailure    Code = "store.graph.query.database_failure"

	CodeVectorDatabaseFailure Code = "store.vector.database_failure"
	CodeVectorBackendInvalid  Code = "store.vector.backend.invalid_input"

	CodeTxnConflict        Code = "txn.begin.conflict"
	CodeTxnDatabaseFailure Code = "txn.execute.database_failure"

	CodeBreakerOpen Code = "breaker.call.suppressed"

	CodeEmbedUpstreamFailure   Code = "embed.request.upstream_failure"
	CodeEmbedProviderInvalid   Code = "embed.provider.invalid_input"
	CodeExtractUpstreamFailure Code = "extract.request.upstream_failure"
	CodeSummaryUpstreamFailure Code = "extract.summary.upstream_failure"

	CodeMemoryAddInvalid    Code = "memory.add.invalid_input"
	CodeMemorySearchFailure Code = "memory.search.upstream_failure"

	CodeServerRateLimited  Code = "server.ratelimit.budget_exceeded"
	CodeServerStartFailure Code = "server.start.failure"

	CodeConfigInvalid     Code = "config.validate.invalid_value"
	CodeConfigReadFailure Code = "config.load.read.failure"

	CodeSecretNotFound Code = "secrets.resolve.not_found"

	CodeInternalFailure Code = "engram.internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldTenant(value string) Attr { return Field("tenant", value) }
func FieldNode(value string) Attr   { return Field("node", value) }
func FieldVector(value string) Attr { return Field("vector_id", value) }

func New(code Code, msg string, fields ...Attr) error {
	return builder(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return builder(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return builder(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return builder(code).Wrapf(err, format, args...)
}

// builder attaches the code and its default suggestion as the oops hint.
func builder(code Code) oops.OopsErrorBuilder {
	return oops.Code(code).Hint(suggestion(code))
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch c := oopsErr.Code().(type) {
	case Code:
		return c
	case string:
		return Code(c)
	default:
		return Code(fmt.Sprintf("%v", c))
	}
}

func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// FieldsOf returns the structured context attached to an error chain.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid_input" || r == "invalid_value"
}

func IsBreakerOpen(err error) bool {
	return HasCode(err, CodeBreakerOpen)
}

// Retryable reports whether the failure class is worth retrying.
// Validation and not-found errors are terminal; database, upstream,
// concurrency, rate-limit, and breaker rejections can succeed later.
func Retryable(err error) bool {
	switch reason(CodeOf(err)) {
	case "database_failure", "upstream_failure", "conflict", "suppressed", "budget_exceeded":
		return true
	default:
		return false
	}
}

// Suggestion returns the operator-facing hint attached to the error.
func Suggestion(err error) string {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	return oopsErr.Hint()
}

// UserMessage renders an error for the tool caller: code, message, and
// suggestion when one is attached. Internal stack context is omitted.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeInternalFailure
	}

	msg := err.Error()
	if hint := Suggestion(err); hint != "" {
		return fmt.Sprintf("%s: %s (%s)", code, msg, hint)
	}
	return fmt.Sprintf("%s: %s", code, msg)
}

func Join(errs ...error) error {
	return oops.Code(CodeInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}

// suggestion maps a code's failure class to a default remediation hint.
func suggestion(code Code) string {
	switch reason(code) {
	case "invalid_input", "invalid_value":
		return "check the request arguments and retry with valid input"
	case "not_found":
		return "verify the identifier and tenant are correct"
	case "database_failure":
		return "retry; if the failure persists check the data directory"
	case "upstream_failure":
		return "retry; the external service may be temporarily unavailable"
	case "conflict":
		return "another operation is in flight; retry after a short backoff"
	case "suppressed":
		return "the dependency is failing; retry after the breaker reset window"
	case "budget_exceeded":
		return "rate limit reached; retry after the current window"
	default:
		return ""
	}
}
