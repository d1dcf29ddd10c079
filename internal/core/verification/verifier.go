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

// Package verification confirms that an entity exists at an external metadata
// provider before any AI generation is attempted. The provider's record is
// the ground truth the generated text is later checked against.
package verification

import (
	"context"
	"slices"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
)

// DefaultSearchLimit is the number of candidates requested for disambiguation.
const DefaultSearchLimit = 5

// Verifier looks entities up at an external provider.
//
// Errors wrap model.ErrProviderUnavailable when the provider cannot be
// reached, is throttling or its circuit breaker is open. "Not found" is not an
// error: FindExact returns nil and Search an empty slice.
type Verifier interface {
	// FindExact returns the candidate the slug names without ambiguity, or nil.
	FindExact(ctx context.Context, t model.EntityType, s string) (*model.Candidate, error)
	// Search returns up to limit candidates for the slug's title, candidates
	// released in the slug's year first.
	Search(ctx context.Context, t model.EntityType, s string, limit int) ([]model.Candidate, error)
	Name() string
}

// exactMatch picks the candidate a slug names: one whose derived slug (with or
// without the director suffix) equals the slug, or else the single candidate
// with the same title and year.
func exactMatch(s string, candidates []model.Candidate) *model.Candidate {
	for i, c := range candidates {
		if slug.DeriveCandidate(c, nil) == s {
			return &candidates[i]
		}
		if c.Director != "" && slug.Derive(c.Title, c.Year, "", nil)+"-"+slug.Slugify(c.Director) == s {
			return &candidates[i]
		}
	}

	parts := slug.Parse(s)
	if !parts.HasYear() {
		return nil
	}
	var match *model.Candidate
	for i, c := range candidates {
		if slug.Slugify(c.Title) == parts.TitleSlug && c.Year == parts.Year {
			if match != nil {
				return nil
			}
			match = &candidates[i]
		}
	}
	return match
}

// yearFirst stably moves candidates from the given year to the front.
func yearFirst(candidates []model.Candidate, year int) []model.Candidate {
	if year <= 0 {
		return candidates
	}
	out := slices.Clone(candidates)
	slices.SortStableFunc(out, func(a, b model.Candidate) int {
		am, bm := a.Year == year, b.Year == year
		switch {
		case am && !bm:
			return -1
		case bm && !am:
			return 1
		}
		return 0
	})
	return out
}
