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

// Package confidence implements the pre-generation validator: a heuristic
// scorer that estimates, from the shape of a slug alone, whether it names a
// real entity, and the hallucination guard that refuses to spend an AI call on
// slugs that look like garbage.
package confidence

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
)

// Thresholds bands a score into a level. They are policy values and come from
// configuration.
type Thresholds struct {
	High    float64 `toml:"high"`
	Medium  float64 `toml:"medium"`
	Low     float64 `toml:"low"`
	MinYear int     `toml:"min_year"`
	// MaxYearsAhead is how far past the current year a release may be dated.
	MaxYearsAhead int `toml:"max_years_ahead"`
}

// DefaultThresholds returns the stock banding.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.7, Medium: 0.5, Low: 0.3, MinYear: 1870, MaxYearsAhead: 1}
}

var (
	placeholderTokens = map[string]bool{
		"test": true, "testing": true, "xyz": true, "abc": true, "foo": true, "bar": true, "baz": true,
		"asdf": true, "qwerty": true, "dummy": true, "fake": true, "sample": true, "example": true,
		"lorem": true, "ipsum": true, "placeholder": true, "random": true, "null": true, "undefined": true,
		"tmp": true, "temp": true,
	}
	randomShape = regexp.MustCompile(`(^|-)[a-z]{1,3}-\d{2,}(-|$)`)
	digitRun    = regexp.MustCompile(`\d{5,}`)
	allDigits   = regexp.MustCompile(`^[\d-]+$`)
)

// Validator scores slugs. The zero value is not usable; use New.
type Validator struct {
	thresholds Thresholds
	now        func() time.Time
}

// New creates a validator with the given thresholds. Zero fields fall back to
// DefaultThresholds.
func New(t Thresholds) *Validator {
	d := DefaultThresholds()
	if t.High <= 0 {
		t.High = d.High
	}
	if t.Medium <= 0 {
		t.Medium = d.Medium
	}
	if t.Low <= 0 {
		t.Low = d.Low
	}
	if t.MinYear <= 0 {
		t.MinYear = d.MinYear
	}
	if t.MaxYearsAhead <= 0 {
		t.MaxYearsAhead = d.MaxYearsAhead
	}
	return &Validator{thresholds: t, now: time.Now}
}

// WithClock replaces the clock used for the plausible year range.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Thresholds returns the active banding.
func (v *Validator) Thresholds() Thresholds {
	return v.thresholds
}

// Level bands a score. A nil score is unknown.
func (v *Validator) Level(score *float64) model.ConfidenceLevel {
	if score == nil {
		return model.ConfidenceUnknown
	}
	switch s := *score; {
	case s >= v.thresholds.High:
		return model.ConfidenceHigh
	case s >= v.thresholds.Medium:
		return model.ConfidenceMedium
	case s >= v.thresholds.Low:
		return model.ConfidenceLow
	}
	return model.ConfidenceVeryLow
}

// Score estimates how likely the (already validated) slug is to name a real
// entity of the given type.
//
// Inputs:
//   - s: A slug that passed slug.Validate.
//   - t: The entity type the slug is looked up as.
//
// Outputs:
//   - model.Confidence: Score in [0,1], its level and the main reason.
func (v *Validator) Score(s string, t model.EntityType) model.Confidence {
	if slug.DetectInjection(s) {
		return v.result(0, "potential prompt injection detected", false)
	}
	if len(s) < 3 {
		return v.result(0, "slug too short (minimum 3 characters)", false)
	}

	parts := slug.Parse(s)
	title := parts.TitleSlug
	tokens := strings.Split(title, "-")

	var score float64
	reason := ""
	implausible := false

	if t.IsPerson() {
		switch {
		case len(tokens) >= 2 && len(tokens) <= 4:
			score, reason = 0.85, "matches name format (2-4 words)"
		case len(tokens) == 1 && len(title) >= 5:
			score, reason = 0.6, "single word (possible mononym)"
		default:
			score, reason = 0.3, "does not match expected name format"
		}
		if strings.ContainsAny(title, "0123456789") {
			score -= 0.3
			reason = "name contains digits"
		}
	} else {
		score, reason = 0.3, "does not match expected title format"
		if len(s) >= 5 {
			score, reason = 0.5, "looks like a title but no year detected"
		}
		if len(tokens) >= 2 && len(tokens) <= 4 {
			score += 0.1
		}
	}

	if parts.HasYear() {
		if v.plausibleYear(parts.Year, t) {
			if !t.IsPerson() {
				score += 0.3
				reason = "contains a valid year (title-year)"
			} else {
				score += 0.05
			}
		} else {
			score -= 0.3
			implausible = true
			reason = fmt.Sprintf("year %d outside the plausible range", parts.Year)
		}
	}

	if hasPlaceholder(tokens) {
		score -= 0.4
		reason = "placeholder token detected"
	}
	if hasRepeats(tokens) {
		score -= 0.2
		reason = "repeated tokens"
	}
	if excessDigits(title) {
		score -= 0.2
		reason = "excess digits"
	}
	if randomShape.MatchString(title) {
		score = math.Min(score, 0.4)
		reason = "suspicious random pattern"
	}
	if allDigits.MatchString(title) {
		score = math.Min(score, 0.1)
		reason = "contains only digits"
	}

	return v.result(score, reason, implausible)
}

func (v *Validator) result(score float64, reason string, implausible bool) model.Confidence {
	score = math.Round(math.Max(0, math.Min(1, score))*100) / 100
	return model.Confidence{
		Score:           score,
		Level:           v.Level(&score),
		Reason:          reason,
		ImplausibleYear: implausible,
	}
}

func (v *Validator) plausibleYear(year int, t model.EntityType) bool {
	maxYear := v.now().Year() + v.thresholds.MaxYearsAhead
	if t.IsPerson() {
		// Birth years cannot lie in the future.
		maxYear = v.now().Year()
	}
	return year >= v.thresholds.MinYear && year <= maxYear
}

func hasPlaceholder(tokens []string) bool {
	for _, tok := range tokens {
		if placeholderTokens[tok] {
			return true
		}
	}
	return false
}

func hasRepeats(tokens []string) bool {
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if seen[tok] {
			return true
		}
		seen[tok] = true
	}
	return false
}

func excessDigits(title string) bool {
	if digitRun.MatchString(title) {
		return true
	}
	digits, letters := 0, 0
	for _, r := range title {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r >= 'a' && r <= 'z':
			letters++
		}
	}
	return digits > 0 && digits > letters
}

// Guard applies the hallucination guard. When the flag is off it never blocks.
//
// Outputs:
//   - error: wraps model.ErrValidation when the slug must not reach the AI provider.
func Guard(c model.Confidence, features model.Features) error {
	if !features.HallucinationGuard {
		return nil
	}
	if c.ImplausibleYear {
		return fmt.Errorf("%w: implausible year (%s)", model.ErrValidation, c.Reason)
	}
	if c.Level == model.ConfidenceVeryLow {
		return fmt.Errorf("%w: confidence %s too low (%s)", model.ErrValidation, strconv.FormatFloat(c.Score, 'f', 2, 64), c.Reason)
	}
	return nil
}
