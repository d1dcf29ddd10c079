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

// Package disambiguation decides what a slug refers to when the provider (or
// the local catalogue) offers more than one match, and builds the choices a
// client can pick from.
package disambiguation

import (
	"cmp"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
)

// overviewLimit is the number of characters of an overview kept in an option.
const overviewLimit = 200

// Outcome classifies a resolution.
type Outcome string

const (
	None      Outcome = "NONE"
	Single    Outcome = "SINGLE"
	Ambiguous Outcome = "AMBIGUOUS"
)

// Option is one selectable candidate.
type Option struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	ReleaseYear int    `json:"release_year,omitempty"`
	Director    string `json:"director,omitempty"`
	Overview    string `json:"overview,omitempty"`
	SelectURL   string `json:"select_url"`
}

// Resolution is the result of Resolve.
type Resolution struct {
	Outcome Outcome
	// Candidate and Slug are set for Single.
	Candidate *model.Candidate
	Slug      string
	// Options is set for Ambiguous, in provider order.
	Options []Option
}

// Alternative is a local entity sharing the requested title.
type Alternative struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	ReleaseYear int    `json:"release_year,omitempty"`
	URL         string `json:"url"`
}

// Meta is attached to a local hit when other entities share its title.
type Meta struct {
	Ambiguous    bool          `json:"ambiguous"`
	Message      string        `json:"message"`
	Alternatives []Alternative `json:"alternatives"`
}

// Disambiguator builds resolutions and selection links.
type Disambiguator struct {
	baseURL string
}

// New creates a Disambiguator. baseURL prefixes every link, e.g.
// "https://api.example.com".
func New(baseURL string) *Disambiguator {
	return &Disambiguator{baseURL: strings.TrimRight(baseURL, "/")}
}

// Resolve classifies provider candidates for a requested slug.
//
// Inputs:
//   - t: The entity type; selects the collection in links.
//   - requested: The slug the client asked for.
//   - candidates: Provider matches in provider order.
//
// Outputs:
//   - Resolution: None for no candidates, Single for exactly one, Ambiguous
//     with one option per candidate otherwise.
func (d *Disambiguator) Resolve(t model.EntityType, requested string, candidates []model.Candidate) Resolution {
	slugs := CandidateSlugs(candidates)
	switch len(candidates) {
	case 0:
		return Resolution{Outcome: None}
	case 1:
		c := candidates[0]
		return Resolution{Outcome: Single, Candidate: &c, Slug: slugs[0]}
	}

	options := make([]Option, len(candidates))
	for i, c := range candidates {
		options[i] = Option{
			Slug:        slugs[i],
			Title:       c.Title,
			ReleaseYear: c.Year,
			Director:    c.Director,
			Overview:    truncate(c.Overview, overviewLimit),
			SelectURL:   d.SelectURL(t, requested, slugs[i]),
		}
	}
	return Resolution{Outcome: Ambiguous, Options: options}
}

// Select returns the candidate whose derived slug is selected. There is no
// fallback: an unknown selection wraps model.ErrSelectionNotFound.
func (d *Disambiguator) Select(candidates []model.Candidate, selected string) (model.Candidate, string, error) {
	for i, s := range CandidateSlugs(candidates) {
		if s == selected {
			return candidates[i], s, nil
		}
	}
	return model.Candidate{}, "", fmt.Errorf("%w: %q", model.ErrSelectionNotFound, selected)
}

// SelectURL builds the link that re-requests a slug with a selection.
func (d *Disambiguator) SelectURL(t model.EntityType, requested, selected string) string {
	return fmt.Sprintf("%s/api/v1/%s/%s?slug=%s", d.baseURL, t.Collection(), requested, url.QueryEscape(selected))
}

// EntityURL is the canonical link of an entity.
func (d *Disambiguator) EntityURL(t model.EntityType, s string) string {
	return fmt.Sprintf("%s/api/v1/%s/%s", d.baseURL, t.Collection(), s)
}

// LocalMeta describes the other local entities sharing a title when the
// request did not pin a year. It returns nil when there is nothing to say.
func (d *Disambiguator) LocalMeta(t model.EntityType, requested string, entities []model.Entity) *Meta {
	if slug.Parse(requested).HasYear() || len(entities) <= 1 {
		return nil
	}
	alts := make([]Alternative, 0, len(entities))
	for _, e := range RankLocal(entities) {
		alts = append(alts, Alternative{Slug: e.Slug, Title: e.Title, ReleaseYear: e.Year, URL: d.EntityURL(t, e.Slug)})
	}
	return &Meta{
		Ambiguous:    true,
		Message:      fmt.Sprintf("Multiple %s found with this title. Showing most recent. Use slug with year (e.g., %q) for specific version.", t.Collection(), alts[len(alts)-1].Slug),
		Alternatives: alts,
	}
}

// CandidateSlugs derives one distinct slug per candidate. Candidates sharing a
// title and year are told apart by director, then by a numeric suffix.
func CandidateSlugs(candidates []model.Candidate) []string {
	used := make(map[string]bool, len(candidates))
	taken := func(s string) bool { return used[s] }
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = slug.DeriveCandidate(c, taken)
		used[out[i]] = true
	}
	return out
}

// YearMismatch reports whether the requested slug pins a year that the
// single candidate does not have, and returns that year.
func YearMismatch(requested string, c model.Candidate) (int, bool) {
	p := slug.Parse(requested)
	if !p.HasYear() || c.Year == 0 {
		return 0, false
	}
	return p.Year, p.Year != c.Year
}

// RankLocal orders local entities sharing a title: newest year first, ties
// by insertion order. The input is not modified.
func RankLocal(entities []model.Entity) []model.Entity {
	out := slices.Clone(entities)
	slices.SortStableFunc(out, func(a, b model.Entity) int {
		if c := cmp.Compare(b.Year, a.Year); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
