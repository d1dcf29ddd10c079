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

// Package slug validates, parses and derives the URL-safe identifiers used as
// the external identity of movies, people and shows. Validation is the first
// step of every request that carries a slug: nothing downstream (provider
// lookups, AI prompts, persistence) ever sees a slug that has not passed
// Validate.
package slug

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

// MaxLength is the longest slug accepted.
const MaxLength = 255

var (
	shape          = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	titleYear      = regexp.MustCompile(`^(.+)-(\d{4})$`)
	titleYearExtra = regexp.MustCompile(`^(.+)-(\d{4})-(.+)$`)
	nonAlnum       = regexp.MustCompile(`[^a-z0-9]+`)
)

// Validate normalizes a raw, user supplied slug and rejects it when it carries
// a prompt-injection signature or does not have slug shape.
//
// Inputs:
//   - ctx: Used for the audit log written on injection attempts.
//   - raw: The slug exactly as received.
//
// Outputs:
//   - string: The normalized slug.
//   - error: wraps model.ErrPromptInjection or model.ErrValidation. The error
//     text never names the detector that matched.
func Validate(ctx context.Context, raw string) (string, error) {
	if matched, hit := matchInjection(raw); hit {
		LogInjectionAttempt(ctx, "slug", matched, raw)
		return "", model.ErrPromptInjection
	}

	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return "", fmt.Errorf("%w: slug is empty", model.ErrValidation)
	case len(s) > MaxLength:
		return "", fmt.Errorf("%w: slug too long (max %d characters)", model.ErrValidation, MaxLength)
	case !shape.MatchString(s):
		return "", fmt.Errorf("%w: slug may only contain lowercase letters, digits and single hyphens", model.ErrValidation)
	}
	return s, nil
}

// Parts is a slug split into its title, year and disambiguating suffix.
type Parts struct {
	TitleSlug string
	Year      int
	// Suffix is the part after the year, usually a director slug.
	Suffix string
}

// HasYear reports whether the slug carried a trailing (or infix) year.
func (p Parts) HasYear() bool {
	return p.Year > 0
}

// Parse splits a validated slug. Supported forms are "title", "title-year"
// and "title-year-suffix". A single token that looks like a year is treated
// as a title, not a year.
func Parse(s string) Parts {
	if m := titleYear.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[2])
		return Parts{TitleSlug: m[1], Year: year}
	}
	if m := titleYearExtra.FindStringSubmatch(s); m != nil && strings.IndexFunc(m[3], unicode.IsLetter) >= 0 {
		year, _ := strconv.Atoi(m[2])
		return Parts{TitleSlug: m[1], Year: year, Suffix: m[3]}
	}
	return Parts{TitleSlug: s}
}

// Slugify turns free text into slug form: accents are folded to ASCII, the
// text is lowercased and every run of other characters becomes one hyphen.
func Slugify(in string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, in)
	if err != nil {
		folded = in
	}
	out := nonAlnum.ReplaceAllString(strings.ToLower(folded), "-")
	return strings.Trim(out, "-")
}

// Derive builds the canonical slug of a title: "title-year", then
// "title-year-director" when taken reports a collision, then a numeric suffix.
// A nil taken never collides.
//
// Inputs:
//   - title: Title or name.
//   - year: Release or birth year; 0 when unknown.
//   - director: Optional disambiguator.
//   - taken: Reports whether a slug is already in use.
//
// Outputs:
//   - string: A slug that taken does not report as used.
func Derive(title string, year int, director string, taken func(string) bool) string {
	base := Slugify(title)
	if base == "" {
		base = "untitled"
	}
	if year > 0 {
		base = fmt.Sprintf("%s-%d", base, year)
	}
	if taken == nil || !taken(base) {
		return base
	}
	if d := Slugify(director); d != "" {
		withDirector := base + "-" + d
		if !taken(withDirector) {
			return withDirector
		}
		base = withDirector
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !taken(candidate) {
			return candidate
		}
	}
}

// DeriveCandidate is Derive over a provider candidate.
func DeriveCandidate(c model.Candidate, taken func(string) bool) string {
	return Derive(c.Title, c.Year, c.Director, taken)
}

// TitleQuery converts a title slug back into provider search text.
func TitleQuery(titleSlug string) string {
	return strings.ReplaceAll(titleSlug, "-", " ")
}
