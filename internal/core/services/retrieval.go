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
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/disambiguation"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
)

const (
	// MaxBulkSlugs caps a bulk lookup.
	MaxBulkSlugs = 50
	// bulkParallelism bounds concurrent repository reads in a bulk lookup.
	bulkParallelism = 8
)

// Lookup is the result of a local retrieval.
type Lookup struct {
	View model.EntityView
	// Matches holds every local entity sharing the title when the requested
	// slug carried no year. It is empty for exact lookups.
	Matches []model.Entity
}

// RetrievalService answers reads from the local catalogue.
type RetrievalService struct {
	repo Repository
}

func NewRetrievalService(repo Repository) *RetrievalService {
	return &RetrievalService{repo: repo}
}

// Find looks an entity up locally.
//
// A slug without a year matches every entity sharing its title slug and the
// newest one is returned; Matches then lists all of them. A slug with a year
// must match exactly.
//
// Inputs:
//   - ctx: The request context.
//   - t: The entity type.
//   - requested: A validated slug.
//   - locale: The preferred description locale.
//   - descriptionID: Optional; pins the returned description.
//
// Outputs:
//   - *Lookup: The entity with its selected description.
//   - error: model.ErrNotFound when nothing matches, ErrDescriptionNotFound
//     when descriptionID does not belong to the entity.
func (s *RetrievalService) Find(ctx context.Context, t model.EntityType, requested string, locale model.Locale, descriptionID string) (*Lookup, error) {
	out := &Lookup{}
	var entity *model.Entity

	if parts := slug.Parse(requested); !parts.HasYear() {
		matches, err := s.repo.FindByTitleSlug(ctx, t, parts.TitleSlug)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			out.Matches = disambiguation.RankLocal(matches)
			entity = &out.Matches[0]
		}
	}
	if entity == nil {
		e, err := s.repo.FindBySlug(ctx, t, requested)
		if err != nil {
			return nil, err
		}
		entity = e
	}

	view, err := s.view(ctx, entity, locale, descriptionID)
	if err != nil {
		return nil, err
	}
	out.View = *view
	return out, nil
}

func (s *RetrievalService) view(ctx context.Context, e *model.Entity, locale model.Locale, descriptionID string) (*model.EntityView, error) {
	descriptions, err := s.repo.Descriptions(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	selected, err := SelectDescription(descriptions, locale, descriptionID)
	if err != nil {
		return nil, err
	}
	return &model.EntityView{Entity: e, Description: selected, DescriptionsCount: len(descriptions)}, nil
}

// SelectDescription picks the description to show. An explicit id wins;
// otherwise the DEFAULT-style text in the locale, then any text in the
// locale, then the DEFAULT-style text in the default locale, then the oldest
// description. It returns nil when there are no descriptions.
func SelectDescription(descriptions []model.Description, locale model.Locale, descriptionID string) (*model.Description, error) {
	if descriptionID != "" {
		i := slices.IndexFunc(descriptions, func(d model.Description) bool { return d.ID == descriptionID })
		if i < 0 {
			return nil, fmt.Errorf("%w %q", ErrDescriptionNotFound, descriptionID)
		}
		return &descriptions[i], nil
	}
	preferences := []func(model.Description) bool{
		func(d model.Description) bool { return d.Locale == locale && d.ContextTag == model.ContextDefault },
		func(d model.Description) bool { return d.Locale == locale },
		func(d model.Description) bool {
			return d.Locale == model.DefaultLocale && d.ContextTag == model.ContextDefault
		},
		func(model.Description) bool { return true },
	}
	for _, match := range preferences {
		if i := slices.IndexFunc(descriptions, match); i >= 0 {
			return &descriptions[i], nil
		}
	}
	return nil, nil
}

// BulkItem is one slot of a bulk lookup, in request order.
type BulkItem struct {
	Slug  string
	Found bool
	View  *model.EntityView
}

// Bulk looks up exact slugs concurrently. Unknown slugs come back with Found
// unset; any other repository error fails the whole call.
func (s *RetrievalService) Bulk(ctx context.Context, t model.EntityType, slugs []string, locale model.Locale) ([]BulkItem, error) {
	if len(slugs) > MaxBulkSlugs {
		return nil, fmt.Errorf("%w: at most %d slugs per request", model.ErrValidation, MaxBulkSlugs)
	}
	out := make([]BulkItem, len(slugs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkParallelism)
	for i, s0 := range slugs {
		out[i].Slug = s0
		g.Go(func() error {
			e, err := s.repo.FindBySlug(gctx, t, s0)
			if errors.Is(err, model.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			view, err := s.view(gctx, e, locale, "")
			if err != nil {
				return err
			}
			out[i].Found = true
			out[i].View = view
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Coverage summarizes which locales and styles an entity has descriptions in.
type Coverage struct {
	Slug              string                              `json:"slug"`
	EntityType        model.EntityType                    `json:"entity_type"`
	DescriptionsCount int                                 `json:"descriptions_count"`
	Generated         int                                 `json:"generated"`
	Provider          int                                 `json:"provider"`
	Locales           map[model.Locale][]model.ContextTag `json:"locales"`
	MissingLocales    []model.Locale                      `json:"missing_locales"`
}

// Report builds the description coverage of an entity.
func (s *RetrievalService) Report(ctx context.Context, t model.EntityType, requested string) (*Coverage, error) {
	found, err := s.Find(ctx, t, requested, model.DefaultLocale, "")
	if err != nil {
		return nil, err
	}
	descriptions, err := s.repo.Descriptions(ctx, found.View.Entity.ID)
	if err != nil {
		return nil, err
	}

	out := &Coverage{
		Slug:              found.View.Entity.Slug,
		EntityType:        t,
		DescriptionsCount: len(descriptions),
		Locales:           make(map[model.Locale][]model.ContextTag),
		MissingLocales:    []model.Locale{},
	}
	for _, d := range descriptions {
		if d.Origin == model.OriginGenerated {
			out.Generated++
		} else {
			out.Provider++
		}
		if !slices.Contains(out.Locales[d.Locale], d.ContextTag) {
			out.Locales[d.Locale] = append(out.Locales[d.Locale], d.ContextTag)
		}
	}
	for _, l := range model.SupportedLocales {
		if _, ok := out.Locales[l]; !ok {
			out.MissingLocales = append(out.MissingLocales, l)
		}
	}
	return out, nil
}
