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
// holds the types that are persisted by an entity repository: the entity itself
// (a movie, person, TV series or TV show) and the descriptions attached to it.
package model

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies which catalogue an entity belongs to.
type EntityType string

const (
	EntityMovie    EntityType = "MOVIE"
	EntityPerson   EntityType = "PERSON"
	EntityTvSeries EntityType = "TV_SERIES"
	EntityTvShow   EntityType = "TV_SHOW"
)

// EntityTypes lists every supported entity type in a stable order.
var EntityTypes = []EntityType{EntityMovie, EntityPerson, EntityTvSeries, EntityTvShow}

// ParseEntityType converts a user supplied entity type into an EntityType. The
// comparison is case-insensitive and accepts the legacy aliases ACTOR, TVSERIES
// and TVSHOW.
//
// Inputs:
//   - in: The raw entity type string.
//
// Outputs:
//   - EntityType: The canonical entity type.
//   - error: ErrInvalidEntityType when the value is not recognised.
func ParseEntityType(in string) (EntityType, error) {
	switch strings.ToUpper(strings.TrimSpace(in)) {
	case "MOVIE":
		return EntityMovie, nil
	case "PERSON", "ACTOR":
		return EntityPerson, nil
	case "TV_SERIES", "TVSERIES":
		return EntityTvSeries, nil
	case "TV_SHOW", "TVSHOW":
		return EntityTvShow, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntityType, in)
}

// Label is the lower-case, human readable name used in API messages
// (e.g. "Generation queued for movie by slug").
func (e EntityType) Label() string {
	switch e {
	case EntityMovie:
		return "movie"
	case EntityPerson:
		return "person"
	case EntityTvSeries:
		return "tv series"
	case EntityTvShow:
		return "tv show"
	}
	return strings.ToLower(string(e))
}

// Plural is the label for several entities ("movies", "people").
func (e EntityType) Plural() string {
	switch e {
	case EntityPerson:
		return "people"
	case EntityTvSeries:
		return "tv series"
	}
	return e.Label() + "s"
}

// Title is the capitalised label used in error bodies ("Movie not found").
func (e EntityType) Title() string {
	l := e.Label()
	if l == "" {
		return l
	}
	return strings.ToUpper(l[:1]) + l[1:]
}

// Collection is the URL path segment serving this entity type.
func (e EntityType) Collection() string {
	switch e {
	case EntityMovie:
		return "movies"
	case EntityPerson:
		return "people"
	case EntityTvSeries:
		return "tv-series"
	case EntityTvShow:
		return "tv-shows"
	}
	return ""
}

// IsPerson reports whether the entity type describes a person rather than a title.
func (e EntityType) IsPerson() bool {
	return e == EntityPerson
}

// DescriptionOrigin records where a description's text came from.
type DescriptionOrigin string

const (
	OriginGenerated DescriptionOrigin = "GENERATED"
	OriginProvider  DescriptionOrigin = "PROVIDER"
)

// Entity is a catalogue entry. For persons Title holds the name and Year the
// birth year; for TV types Year is the first air year.
type Entity struct {
	ID         string     `json:"id" bigquery:"id"`
	Type       EntityType `json:"entity_type" bigquery:"entity_type"`
	Slug       string     `json:"slug" bigquery:"slug"`
	TitleSlug  string     `json:"-" bigquery:"title_slug"`
	Title      string     `json:"title" bigquery:"title"`
	Year       int        `json:"year,omitempty" bigquery:"year"`
	Director   string     `json:"director,omitempty" bigquery:"director"`
	Genres     []string   `json:"genres,omitempty" bigquery:"genres"`
	Cast       []string   `json:"cast,omitempty" bigquery:"cast"`
	ExternalID string     `json:"external_id,omitempty" bigquery:"external_id"`
	CreatedAt  time.Time  `json:"created_at" bigquery:"created_at"`
	// Seq is the insertion order; it breaks ties when ranking entities that
	// share a title and year.
	Seq int64 `json:"-" bigquery:"seq"`
}

// Description is one localized, styled text attached to an entity.
type Description struct {
	ID         string            `json:"id" bigquery:"id"`
	EntityID   string            `json:"entity_id" bigquery:"entity_id"`
	Locale     Locale            `json:"locale" bigquery:"locale"`
	ContextTag ContextTag        `json:"context_tag" bigquery:"context_tag"`
	Text       string            `json:"text" bigquery:"text"`
	Origin     DescriptionOrigin `json:"origin" bigquery:"origin"`
	AIModel    string            `json:"ai_model,omitempty" bigquery:"ai_model"`
	CreatedAt  time.Time         `json:"created_at" bigquery:"created_at"`
}

// EntityView is an entity together with the description selected for a request.
type EntityView struct {
	Entity            *Entity
	Description       *Description
	DescriptionsCount int
}
