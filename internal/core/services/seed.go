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

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

// SeedEntry is an entity with its provider descriptions.
type SeedEntry struct {
	Entity       model.Entity
	Descriptions []model.Description
}

// SeedEntities is the starter catalogue loaded when [repository] seed is set.
func SeedEntities() []SeedEntry {
	movie := func(s, title string, year int, director string, genres []string, text string) SeedEntry {
		return SeedEntry{
			Entity: model.Entity{Type: model.EntityMovie, Slug: s, Title: title, Year: year, Director: director, Genres: genres},
			Descriptions: []model.Description{
				{Locale: model.LocaleEnUS, ContextTag: model.ContextDefault, Text: text, Origin: model.OriginProvider},
			},
		}
	}
	return []SeedEntry{
		movie("inception-2010", "Inception", 2010, "Christopher Nolan", []string{"Science Fiction", "Thriller"},
			"A thief who steals corporate secrets through dream-sharing technology is given the inverse task of planting an idea into the mind of a chief executive."),
		movie("dune-1984", "Dune", 1984, "David Lynch", []string{"Science Fiction"},
			"In the far future the son of a noble family is drawn into a war over the desert planet Arrakis, the only source of the most valuable substance in the universe."),
		movie("dune-2021", "Dune", 2021, "Denis Villeneuve", []string{"Science Fiction", "Adventure"},
			"Paul Atreides, a brilliant and gifted young man, travels to the most dangerous planet in the universe to ensure the future of his family and his people."),
		{
			Entity: model.Entity{Type: model.EntityPerson, Slug: "tom-hanks", Title: "Tom Hanks", Year: 1956},
			Descriptions: []model.Description{
				{Locale: model.LocaleEnUS, ContextTag: model.ContextDefault, Origin: model.OriginProvider,
					Text: "Thomas Jeffrey Hanks is an American actor and filmmaker known for both his comedic and dramatic roles, with two Academy Awards for Best Actor."},
			},
		},
		{
			Entity: model.Entity{Type: model.EntityTvSeries, Slug: "the-wire-2002", Title: "The Wire", Year: 2002, Genres: []string{"Crime", "Drama"}},
		},
	}
}

// Seed loads entries into repo. Entries whose slug already exists are left
// untouched, so seeding is safe to repeat.
func Seed(ctx context.Context, repo Repository, entries []SeedEntry) (int, error) {
	created := 0
	for _, entry := range entries {
		e, err := repo.CreateEntity(ctx, entry.Entity)
		if errors.Is(err, ErrEntityExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seeding %q: %w", entry.Entity.Slug, err)
		}
		for _, d := range entry.Descriptions {
			d.EntityID = e.ID
			if _, err := repo.AddDescription(ctx, d); err != nil {
				return created, fmt.Errorf("seeding description of %q: %w", e.Slug, err)
			}
		}
		created++
	}
	return created, nil
}
