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

// Package aioutput validates text returned by an AI provider before it is
// stored. AI output is untrusted input: it is stripped of markup, checked for
// a minimum amount of content, scanned for injected instructions and compared
// with the provider's ground-truth overview to flag copying or hallucination.
//
// Only length problems (and, in strict mode, verbatim copying) are errors that
// block the output. Everything else is a warning.
package aioutput

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
)

// Policy holds the validator's tunables.
type Policy struct {
	MinLength int `toml:"min_length"`
	MaxLength int `toml:"max_length"`
	// TooSimilarThreshold flags text that is a near copy of the source.
	TooSimilarThreshold float64 `toml:"too_similar_threshold"`
	// HallucinationThreshold flags text that shares almost nothing with the source.
	// Zero disables the check.
	HallucinationThreshold float64 `toml:"hallucination_threshold"`
	// StrictSimilarity turns the too-similar warning into an error.
	StrictSimilarity bool `toml:"strict_similarity"`
}

// DefaultPolicy returns the stock policy.
func DefaultPolicy() Policy {
	return Policy{MinLength: 50, MaxLength: 5000, TooSimilarThreshold: 0.95, HallucinationThreshold: 0.3}
}

// Validator validates and sanitizes AI descriptions.
type Validator struct {
	policy    Policy
	sanitizer *Sanitizer
}

// NewValidator creates a validator. Zero length and threshold fields take the
// defaults; HallucinationThreshold is kept as given.
func NewValidator(p Policy) *Validator {
	d := DefaultPolicy()
	if p.MinLength <= 0 {
		p.MinLength = d.MinLength
	}
	if p.MaxLength <= 0 {
		p.MaxLength = d.MaxLength
	}
	if p.TooSimilarThreshold <= 0 {
		p.TooSimilarThreshold = d.TooSimilarThreshold
	}
	return &Validator{policy: p, sanitizer: NewSanitizer()}
}

// Sanitize exposes the validator's sanitizer.
func (v *Validator) Sanitize(in string) string {
	return v.sanitizer.Sanitize(in)
}

// ValidateAndSanitizeDescription sanitizes AI output and decides whether it
// can be stored.
//
// Inputs:
//   - ctx: Used for the audit log on injection hits.
//   - text: The raw AI text.
//   - source: Ground-truth overview or biography; nil or empty skips the
//     similarity checks.
//
// Outputs:
//   - model.ValidationOutcome: Valid is false when Errors is not empty.
func (v *Validator) ValidateAndSanitizeDescription(ctx context.Context, text string, source *string) model.ValidationOutcome {
	out := model.ValidationOutcome{
		Sanitized: v.sanitizer.Sanitize(text),
		Warnings:  []string{},
		Errors:    []string{},
	}

	length := utf8.RuneCountInString(out.Sanitized)
	if length < v.policy.MinLength {
		out.Errors = append(out.Errors, fmt.Sprintf("Description too short: %d characters (minimum: %d)", length, v.policy.MinLength))
	}
	if length > v.policy.MaxLength {
		out.Errors = append(out.Errors, fmt.Sprintf("Description too long: %d characters (maximum: %d)", length, v.policy.MaxLength))
	}

	if slug.DetectInjection(out.Sanitized) {
		slug.LogInjectionAttempt(ctx, "ai_output", "output-scan", out.Sanitized)
		out.Warnings = append(out.Warnings, "Potential AI injection detected in output")
	}

	if source != nil && *source != "" {
		similarity := Similarity(out.Sanitized, v.sanitizer.Sanitize(*source))
		switch {
		case similarity > v.policy.TooSimilarThreshold:
			msg := fmt.Sprintf("Description too similar to source (similarity: %.2f) - possibly copied rather than generated", similarity)
			if v.policy.StrictSimilarity {
				out.Errors = append(out.Errors, msg)
			} else {
				out.Warnings = append(out.Warnings, msg)
			}
		case v.policy.HallucinationThreshold > 0 && similarity < v.policy.HallucinationThreshold:
			out.Warnings = append(out.Warnings, fmt.Sprintf("Description too different from source (similarity: %.2f) - possible hallucination", similarity))
		}
	}

	out.Valid = len(out.Errors) == 0
	return out
}
