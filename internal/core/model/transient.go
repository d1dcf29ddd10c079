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

// Package model defines the core data structures of the metadata API. This file
// contains "transient" types: values that live for a single request or a single
// job execution and are never written to the entity repository.
package model

// Candidate is one record returned by the external metadata provider. It is
// used to confirm a single match or to build disambiguation options and is
// discarded afterwards (or cached briefly by the provider client).
type Candidate struct {
	ExternalID  string  `json:"external_id"`
	Title       string  `json:"title"`
	Year        int     `json:"year,omitempty"`
	ReleaseDate string  `json:"release_date,omitempty"`
	Overview    string  `json:"overview,omitempty"`
	Director    string  `json:"director,omitempty"`
	Popularity  float64 `json:"popularity,omitempty"`
}

// ConfidenceLevel is the banded form of a confidence score.
type ConfidenceLevel string

const (
	ConfidenceHigh    ConfidenceLevel = "high"
	ConfidenceMedium  ConfidenceLevel = "medium"
	ConfidenceLow     ConfidenceLevel = "low"
	ConfidenceVeryLow ConfidenceLevel = "very_low"
	ConfidenceUnknown ConfidenceLevel = "unknown"
)

// Confidence is the heuristic estimate that a slug names a real entity. It is
// derived from the slug's shape only and is never stored.
type Confidence struct {
	Score           float64         `json:"confidence"`
	Level           ConfidenceLevel `json:"confidence_level"`
	Reason          string          `json:"reason,omitempty"`
	ImplausibleYear bool            `json:"-"`
}

// GeneratedEntity is the validated payload returned by an AI provider.
type GeneratedEntity struct {
	Title       string   `json:"title"`
	Year        int      `json:"release_year"`
	Director    string   `json:"director,omitempty"`
	Description string   `json:"description"`
	Genres      []string `json:"genres,omitempty"`
	Cast        []string `json:"cast,omitempty"`
	// Model is the provider model that produced the payload.
	Model string `json:"-"`
	// Raw is the unparsed provider response, kept for archiving.
	Raw string `json:"-"`
}

// ValidationOutcome is the result of validating AI produced text.
type ValidationOutcome struct {
	Valid     bool     `json:"valid"`
	Sanitized string   `json:"sanitized"`
	Warnings  []string `json:"warnings"`
	Errors    []string `json:"errors"`
}

// Features carries the toggles that gate pipeline stages. It is passed
// explicitly to the components that need it.
type Features struct {
	AIDescriptionGeneration bool `toml:"ai_description_generation"`
	AIBioGeneration         bool `toml:"ai_bio_generation"`
	HallucinationGuard      bool `toml:"hallucination_guard"`
	TMDbVerification        bool `toml:"tmdb_verification"`
}

// GenerationEnabled reports whether AI generation is switched on for the entity type.
func (f Features) GenerationEnabled(t EntityType) bool {
	if t.IsPerson() {
		return f.AIBioGeneration
	}
	return f.AIDescriptionGeneration
}

// FeatureName is the flag name gating generation for the entity type.
func FeatureName(t EntityType) string {
	if t.IsPerson() {
		return "ai_bio_generation"
	}
	return "ai_description_generation"
}
