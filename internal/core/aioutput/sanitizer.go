// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package aioutput

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses bounds the fixed-point loop. Real input settles in two or
// three passes.
const maxSanitizePasses = 10

var (
	scriptSchemes = regexp.MustCompile(`(?i)(javascript|vbscript)\s*:|data\s*:\s*text/html`)
	whitespace    = regexp.MustCompile(`\s+`)
	markupChars   = strings.NewReplacer("<", "", ">", "", "&", "")
)

// Sanitizer turns untrusted markup into inert plain text.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer builds a sanitizer on bluemonday's strict policy: every element
// and attribute is dropped, and the bodies of script, style and similar
// elements are dropped with them.
func NewSanitizer() *Sanitizer {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return &Sanitizer{policy: p}
}

// Sanitize strips markup and script vectors and normalizes whitespace. The
// pass is repeated until the text stops changing, which makes Sanitize
// idempotent: Sanitize(Sanitize(x)) == Sanitize(x).
func (s *Sanitizer) Sanitize(in string) string {
	out := in
	for i := 0; i < maxSanitizePasses; i++ {
		next := s.pass(out)
		if next == out {
			return out
		}
		out = next
	}
	// Did not settle: drop every character that could open a tag or an
	// entity. What is left passes through pass unchanged.
	return neutralize(out)
}

func (s *Sanitizer) pass(in string) string {
	out := strings.ReplaceAll(in, "\x00", "")
	// Nested entity encoding ("&amp;lt;script&amp;gt;") is decoded in full
	// so the policy sees the markup it hides.
	out = unescapeAll(out)
	// bluemonday returns HTML-escaped text; decode it back to plain text.
	out = html.UnescapeString(s.policy.Sanitize(out))
	out = scriptSchemes.ReplaceAllString(out, "")
	out = whitespace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// unescapeAll decodes entities until none are left. Every decoding step
// shortens the text, so the loop ends.
func unescapeAll(in string) string {
	for {
		next := html.UnescapeString(in)
		if next == in {
			return in
		}
		in = next
	}
}

func neutralize(in string) string {
	for {
		next := markupChars.Replace(in)
		next = scriptSchemes.ReplaceAllString(next, "")
		next = strings.TrimSpace(whitespace.ReplaceAllString(next, " "))
		if next == in {
			return in
		}
		in = next
	}
}
