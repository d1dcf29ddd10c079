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

package verification

import (
	"context"
	"strings"
	"sync"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
)

// Fake is a deterministic, fixture-backed Verifier. A candidate matches a
// search when its slugified title starts with the requested title slug on a
// word boundary, which mimics the provider's prefix-friendly search.
type Fake struct {
	mu       sync.RWMutex
	fixtures map[model.EntityType][]model.Candidate
	err      error
	calls    int
}

// NewFake creates a Fake with the given fixtures.
func NewFake(fixtures map[model.EntityType][]model.Candidate) *Fake {
	if fixtures == nil {
		fixtures = map[model.EntityType][]model.Candidate{}
	}
	return &Fake{fixtures: fixtures}
}

// DefaultFixtures is a small catalogue used by the "fake" provider setting.
func DefaultFixtures() map[model.EntityType][]model.Candidate {
	return map[model.EntityType][]model.Candidate{
		model.EntityMovie: {
			{ExternalID: "603", Title: "The Matrix", Year: 1999, ReleaseDate: "1999-03-31", Director: "Lana Wachowski",
				Overview: "Set in the 22nd century, The Matrix tells the story of a computer hacker who joins a group of underground insurgents fighting the vast and powerful computers who now rule the earth."},
			{ExternalID: "9737", Title: "Bad Boys", Year: 1995, ReleaseDate: "1995-04-07", Director: "Michael Bay",
				Overview: "Marcus Burnett is a hen-pecked family man. Mike Lowry is a foot-loose and fancy free ladies' man. Both Miami policemen, they have 72 hours to reclaim a consignment of drugs stolen from under their station's nose."},
			{ExternalID: "8961", Title: "Bad Boys II", Year: 2003, ReleaseDate: "2003-07-18", Director: "Michael Bay",
				Overview: "Detectives Marcus Burnett and Mike Lowery of the Miami Narcotics Task Force are tasked with stopping the flow of the drug ecstasy into Miami."},
			{ExternalID: "78", Title: "Blade Runner", Year: 1982, ReleaseDate: "1982-06-25", Director: "Ridley Scott",
				Overview: "In the smog-choked dystopian Los Angeles of 2019, blade runner Rick Deckard is called out of retirement to terminate a quartet of replicants who have escaped to Earth seeking their creator for a way to extend their short life spans."},
		},
		model.EntityPerson: {
			{ExternalID: "6384", Title: "Keanu Reeves", Year: 1964, ReleaseDate: "1964-09-02",
				Overview: "Keanu Charles Reeves is a Canadian actor. Reeves is known for his roles in Bill & Ted's Excellent Adventure, Speed, Point Break, and The Matrix trilogy."},
		},
		model.EntityTvSeries: {
			{ExternalID: "1396", Title: "Breaking Bad", Year: 2008, ReleaseDate: "2008-01-20",
				Overview: "Walter White, a New Mexico chemistry teacher, is diagnosed with Stage III cancer and given a prognosis of only two years left to live."},
		},
		model.EntityTvShow: {
			{ExternalID: "2224", Title: "The Daily Show", Year: 1996, ReleaseDate: "1996-07-22",
				Overview: "A late night satirical television program that airs Monday through Thursday."},
		},
	}
}

// Add appends fixtures for an entity type.
func (f *Fake) Add(t model.EntityType, c ...model.Candidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixtures[t] = append(f.fixtures[t], c...)
}

// FailWith makes every following call return err; nil restores normal service.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls reports how many lookups were made.
func (f *Fake) Calls() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) FindExact(ctx context.Context, t model.EntityType, s string) (*model.Candidate, error) {
	found, err := f.Search(ctx, t, s, DefaultSearchLimit)
	if err != nil {
		return nil, err
	}
	return exactMatch(s, found), nil
}

func (f *Fake) Search(_ context.Context, t model.EntityType, s string, limit int) ([]model.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	parts := slug.Parse(s)
	var out []model.Candidate
	for _, c := range f.fixtures[t] {
		title := slug.Slugify(c.Title)
		if title == parts.TitleSlug || strings.HasPrefix(title, parts.TitleSlug+"-") {
			out = append(out, c)
		}
	}
	out = yearFirst(out, parts.Year)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
