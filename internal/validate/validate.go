// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package validate guards every externally supplied identifier before it
// can appear anywhere near a query string. Node names participate in
// recursive CTE fragments, so the whitelist is the primary defense and
// the character-class and Unicode checks are defense-in-depth.
package validate

import (
	"regexp"
	"strings"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// MaxNameLength is the maximum accepted node-name length.
const MaxNameLength = 200

// MaxTenantLength is the maximum accepted tenant length.
const MaxTenantLength = 100

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,200}$`)

// forbiddenRunes are control and direction-override codepoints that have
// appeared in identifier-smuggling attacks.
var forbiddenRunes = []rune{'\x00', '\u202E', '\u200F', '\u200B', '\uFFFF'}

const forbiddenChars = `<>"'` + "`" + `\`

// Name checks an externally supplied node name against the identifier
// whitelist. The returned error carries the validation code.
func Name(s string) error {
	if s == "" {
		return engramerr.New(engramerr.CodeValidateNameInvalid, "node name must not be empty")
	}
	if len(s) > MaxNameLength {
		return engramerr.Errorf(engramerr.CodeValidateNameInvalid,
			"node name exceeds %d characters (got %d)", MaxNameLength, len(s))
	}
	for _, r := range forbiddenRunes {
		if strings.ContainsRune(s, r) {
			return engramerr.Errorf(engramerr.CodeValidateNameInvalid,
				"node name contains forbidden codepoint U+%04X", r)
		}
	}
	if strings.ContainsAny(s, forbiddenChars) {
		return engramerr.New(engramerr.CodeValidateNameInvalid,
			"node name contains forbidden characters")
	}
	if !namePattern.MatchString(s) {
		return engramerr.Errorf(engramerr.CodeValidateNameInvalid,
			"node name %q must match [A-Za-z0-9_-]{1,200}", s)
	}
	return nil
}

// Tenant checks a tenant identifier: non-empty after trimming, bounded.
func Tenant(s string) error {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return engramerr.New(engramerr.CodeValidateTenantInvalid, "tenant must not be empty")
	}
	if trimmed != s {
		return engramerr.New(engramerr.CodeValidateTenantInvalid,
			"tenant must not carry leading or trailing whitespace")
	}
	if len(s) > MaxTenantLength {
		return engramerr.Errorf(engramerr.CodeValidateTenantInvalid,
			"tenant exceeds %d characters (got %d)", MaxTenantLength, len(s))
	}
	return nil
}

// EscapeSQL doubles single quotes for embedding a value in a SQL string
// literal. Parameter binding is always preferred; this exists for the
// rare literal position (and is tested as a contract).
func EscapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
