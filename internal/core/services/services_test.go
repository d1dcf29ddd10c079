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

package services_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/services"
)

func seeded(t *testing.T) *services.MemoryRepository {
	t.Helper()
	repo := services.NewMemoryRepository()
	n, err := services.Seed(context.Background(), repo, services.SeedEntities())
	require.NoError(t, err)
	require.Equal(t, len(services.SeedEntities()), n)
	return repo
}

func TestSeedIsRepeatable(t *testing.T) {
	repo := seeded(t)
	n, err := services.Seed(context.Background(), repo, services.SeedEntities())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateEntityRejectsTakenSlug(t *testing.T) {
	ctx := context.Background()
	repo := services.NewMemoryRepository()

	first, err := repo.CreateEntity(ctx, model.Entity{Type: model.EntityMovie, Slug: "heat-1995", Title: "Heat", Year: 1995})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "heat", first.TitleSlug)

	again, err := repo.CreateEntity(ctx, model.Entity{Type: model.EntityMovie, Slug: "heat-1995", Title: "Heat"})
	assert.ErrorIs(t, err, services.ErrEntityExists)
	assert.Equal(t, first.ID, again.ID)

	// Same slug, other type.
	_, err = repo.CreateEntity(ctx, model.Entity{Type: model.EntityTvSeries, Slug: "heat-1995", Title: "Heat"})
	assert.NoError(t, err)
}

func TestConcurrentCreateStoresOneEntity(t *testing.T) {
	ctx := context.Background()
	repo := services.NewMemoryRepository()
	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := map[string]bool{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, _ := repo.CreateEntity(ctx, model.Entity{Type: model.EntityMovie, Slug: "alien-1979", Title: "Alien", Year: 1979})
			mu.Lock()
			ids[e.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1)
}

func TestFindWithoutYearReturnsNewest(t *testing.T) {
	svc := services.NewRetrievalService(seeded(t))

	found, err := svc.Find(context.Background(), model.EntityMovie, "dune", model.LocaleEnUS, "")
	require.NoError(t, err)
	assert.Equal(t, "dune-2021", found.View.Entity.Slug)
	require.Len(t, found.Matches, 2)
	assert.Equal(t, "dune-1984", found.Matches[1].Slug)
	require.NotNil(t, found.View.Description)
	assert.Equal(t, 1, found.View.DescriptionsCount)
}

func TestFindWithYearIsExact(t *testing.T) {
	svc := services.NewRetrievalService(seeded(t))

	found, err := svc.Find(context.Background(), model.EntityMovie, "dune-1984", model.LocaleEnUS, "")
	require.NoError(t, err)
	assert.Equal(t, "David Lynch", found.View.Entity.Director)
	assert.Empty(t, found.Matches)

	_, err = svc.Find(context.Background(), model.EntityMovie, "dune-1999", model.LocaleEnUS, "")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = svc.Find(context.Background(), model.EntityPerson, "dune-1984", model.LocaleEnUS, "")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFindWithUnknownDescriptionID(t *testing.T) {
	svc := services.NewRetrievalService(seeded(t))
	_, err := svc.Find(context.Background(), model.EntityMovie, "inception-2010", model.LocaleEnUS, "nope")
	assert.ErrorIs(t, err, services.ErrDescriptionNotFound)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSelectDescription(t *testing.T) {
	ds := []model.Description{
		{ID: "1", Locale: model.LocaleEnUS, ContextTag: model.ContextHumorous},
		{ID: "2", Locale: model.LocaleEnUS, ContextTag: model.ContextDefault},
		{ID: "3", Locale: model.LocalePlPL, ContextTag: model.ContextCritical},
	}
	pick := func(l model.Locale, id string) string {
		d, err := services.SelectDescription(ds, l, id)
		require.NoError(t, err)
		return d.ID
	}
	assert.Equal(t, "2", pick(model.LocaleEnUS, ""))
	assert.Equal(t, "3", pick(model.LocalePlPL, ""))
	assert.Equal(t, "2", pick(model.LocaleDeDE, ""))
	assert.Equal(t, "1", pick(model.LocaleDeDE, "1"))

	none, err := services.SelectDescription(nil, model.LocaleEnUS, "")
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestBulkKeepsRequestOrder(t *testing.T) {
	svc := services.NewRetrievalService(seeded(t))
	items, err := svc.Bulk(context.Background(), model.EntityMovie, []string{"dune-2021", "missing-2000", "inception-2010"}, model.LocaleEnUS)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.True(t, items[0].Found)
	assert.Equal(t, "dune-2021", items[0].View.Entity.Slug)
	assert.False(t, items[1].Found)
	assert.Equal(t, "missing-2000", items[1].Slug)
	assert.Equal(t, "Inception", items[2].View.Entity.Title)

	tooMany := make([]string, services.MaxBulkSlugs+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("movie-%d", i)
	}
	_, err = svc.Bulk(context.Background(), model.EntityMovie, tooMany, model.LocaleEnUS)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestReportCoverage(t *testing.T) {
	ctx := context.Background()
	repo := seeded(t)
	svc := services.NewRetrievalService(repo)

	found, err := svc.Find(ctx, model.EntityMovie, "inception-2010", model.LocaleEnUS, "")
	require.NoError(t, err)
	_, err = repo.AddDescription(ctx, model.Description{EntityID: found.View.Entity.ID, Locale: model.LocalePlPL, ContextTag: model.ContextModern, Text: "Opis", Origin: model.OriginGenerated})
	require.NoError(t, err)

	report, err := svc.Report(ctx, model.EntityMovie, "inception-2010")
	require.NoError(t, err)
	assert.Equal(t, 2, report.DescriptionsCount)
	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, 1, report.Provider)
	assert.Equal(t, []model.ContextTag{model.ContextModern}, report.Locales[model.LocalePlPL])
	assert.ElementsMatch(t, []model.Locale{model.LocaleDeDE, model.LocaleFrFR, model.LocaleEsES}, report.MissingLocales)
}

func TestSearch(t *testing.T) {
	svc := services.NewSearchService(seeded(t))
	ctx := context.Background()

	out, err := svc.Search(ctx, model.EntityMovie, "DUNE", 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 2021, out[0].Year)

	out, err = svc.Search(ctx, model.EntityMovie, "dune", 1)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	out, err = svc.Search(ctx, model.EntityMovie, "no such title", 0)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)

	_, err = svc.Search(ctx, model.EntityMovie, "  ", 0)
	assert.ErrorIs(t, err, model.ErrValidation)
}
