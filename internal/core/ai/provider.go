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

// Package ai generates entity metadata with a large language model. A
// Provider turns a Request (entity type, slug, locale, style and, when known,
// the verified provider record) into a model.GeneratedEntity.
//
// Every provider returns either a payload that passed boundary validation or
// an error wrapping one of model.ErrAIProvider, model.ErrNotFound or
// model.ErrValidation. Callers never read fields of an unvalidated response.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
)

// minYear is the earliest year a generated payload may carry.
const minYear = 1870

// Request describes one generation.
type Request struct {
	EntityType model.EntityType
	Slug       string
	Locale     model.Locale
	ContextTag model.ContextTag
	// Snapshot is the verified provider record, or nil when verification was
	// skipped.
	Snapshot *model.Candidate
}

// Provider generates entity metadata.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (model.GeneratedEntity, error)
}

// payload is the JSON object every provider is asked to return.
type payload struct {
	Title       string   `json:"title"`
	ReleaseYear int      `json:"release_year"`
	Director    string   `json:"director"`
	Description string   `json:"description"`
	Genres      []string `json:"genres"`
	Cast        []string `json:"cast"`
	Error       string   `json:"error"`
}

// DecodePayload parses and validates a raw model response.
//
// Inputs:
//   - raw: The response text, optionally wrapped in a Markdown code fence.
//   - req: The request; supplies the fallback year and the entity type.
//   - now: The clock used for the plausible year range.
//
// Outputs:
//   - model.GeneratedEntity: The validated payload with Raw set.
//   - error: model.ErrNotFound when the model reported the entity does not
//     exist, model.ErrAIProvider for unparsable output and
//     model.ErrValidation for missing or implausible fields.
func DecodePayload(raw string, req Request, now time.Time) (model.GeneratedEntity, error) {
	var p payload
	text := strings.TrimSpace(raw)
	text = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(text, "```json"), "```"), "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &p); err != nil {
		return model.GeneratedEntity{}, fmt.Errorf("%w: response is not a JSON object: %w", model.ErrAIProvider, err)
	}
	if p.Error != "" {
		return model.GeneratedEntity{}, fmt.Errorf("%w: model reported %q", model.ErrNotFound, p.Error)
	}

	out := model.GeneratedEntity{
		Title:       strings.TrimSpace(p.Title),
		Year:        p.ReleaseYear,
		Director:    strings.TrimSpace(p.Director),
		Description: strings.TrimSpace(p.Description),
		Genres:      trimAll(p.Genres),
		Cast:        trimAll(p.Cast),
		Raw:         raw,
	}

	var problems []string
	if out.Title == "" {
		problems = append(problems, "title is missing")
	}
	if out.Description == "" {
		problems = append(problems, "description is missing")
	}
	if out.Year == 0 {
		out.Year = fallbackYear(req)
	}
	if out.Year != 0 && !plausibleYear(out.Year, req.EntityType, now) {
		problems = append(problems, fmt.Sprintf("year %d is implausible", out.Year))
	}
	if len(problems) > 0 {
		return model.GeneratedEntity{}, fmt.Errorf("%w: %s", model.ErrValidation, strings.Join(problems, "; "))
	}
	return out, nil
}

func fallbackYear(req Request) int {
	if req.Snapshot != nil && req.Snapshot.Year != 0 {
		return req.Snapshot.Year
	}
	return slug.Parse(req.Slug).Year
}

func plausibleYear(year int, t model.EntityType, now time.Time) bool {
	limit := now.Year() + 1
	if t.IsPerson() {
		limit = now.Year()
	}
	return year >= minYear && year <= limit
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsTransient reports whether a provider error is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, model.ErrAIProvider) && !errors.Is(err, model.ErrValidation)
}
