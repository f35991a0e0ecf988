// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

var scriptBlockPattern = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)

// Sanitize strips C0/C1 control characters (except newline and tab) and
// <script> blocks from raw LLM output before it is parsed or stored.
func Sanitize(s string) string {
	s = scriptBlockPattern.ReplaceAllString(s, "")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || (r >= 0x7F && r <= 0x9F) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParseExtraction sanitizes raw model output and decodes the expected
// JSON document. Models occasionally wrap JSON in prose or fences, so
// the outermost brace pair is located first.
func ParseExtraction(raw string) (*Extraction, error) {
	clean := Sanitize(raw)

	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start == -1 || end <= start {
		return nil, engramerr.New(engramerr.CodeExtractUpstreamFailure,
			"extraction output carried no JSON object")
	}

	var out Extraction
	if err := json.Unmarshal([]byte(clean[start:end+1]), &out); err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeExtractUpstreamFailure,
			"parsing extraction output")
	}
	return &out, nil
}
