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
	"strings"
	"sync/atomic"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
)

// BigQueryRepository stores entities and descriptions in two BigQuery tables
// through the streaming inserter.
//
// The slug check in CreateEntity is a read before the insert and is not
// atomic; two workers persisting the same slug at once can both insert. The
// job store's one-pending-job-per-slug rule keeps that window narrow.
type BigQueryRepository struct {
	client           *bigquery.Client
	dataset          string
	entityTable      string
	descriptionTable string
	now              func() time.Time
	seq              atomic.Int64
}

func NewBigQueryRepository(client *bigquery.Client, dataset, entityTable, descriptionTable string) *BigQueryRepository {
	r := &BigQueryRepository{
		client:           client,
		dataset:          dataset,
		entityTable:      entityTable,
		descriptionTable: descriptionTable,
		now:              time.Now,
	}
	r.seq.Store(time.Now().UnixNano())
	return r
}

// fqn returns the fully qualified, dot separated name of a table, e.g.
// `project.media_metadata.entities`.
func (r *BigQueryRepository) fqn(table string) string {
	return strings.Replace(r.client.Dataset(r.dataset).Table(table).FullyQualifiedName(), ":", ".", 1)
}

func (r *BigQueryRepository) FindBySlug(ctx context.Context, t model.EntityType, s string) (*model.Entity, error) {
	out, err := readAll[model.Entity](ctx, r.client, fmt.Sprintf(QryFindEntityBySlug, r.fqn(r.entityTable)),
		bigquery.QueryParameter{Name: "entity_type", Value: string(t)},
		bigquery.QueryParameter{Name: "slug", Value: s},
	)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s %q", model.ErrNotFound, t.Label(), s)
	}
	return &out[0], nil
}

func (r *BigQueryRepository) FindByTitleSlug(ctx context.Context, t model.EntityType, titleSlug string) ([]model.Entity, error) {
	return readAll[model.Entity](ctx, r.client, fmt.Sprintf(QryFindEntitiesByTitleSlug, r.fqn(r.entityTable)),
		bigquery.QueryParameter{Name: "entity_type", Value: string(t)},
		bigquery.QueryParameter{Name: "title_slug", Value: titleSlug},
	)
}

func (r *BigQueryRepository) CreateEntity(ctx context.Context, e model.Entity) (*model.Entity, error) {
	existing, err := r.FindBySlug(ctx, e.Type, e.Slug)
	if err == nil {
		return existing, fmt.Errorf("%w: %s", ErrEntityExists, e.Slug)
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	fillEntity(&e, r.now(), r.seq.Add(1))
	if err := r.client.Dataset(r.dataset).Table(r.entityTable).Inserter().Put(ctx, &e); err != nil {
		return nil, fmt.Errorf("bigquery insert failed for %q: %w", e.Slug, err)
	}
	return &e, nil
}

func (r *BigQueryRepository) AddDescription(ctx context.Context, d model.Description) (*model.Description, error) {
	found, err := readAll[model.Entity](ctx, r.client, fmt.Sprintf(QryFindEntityByID, r.fqn(r.entityTable)),
		bigquery.QueryParameter{Name: "id", Value: d.EntityID},
	)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: entity %q", model.ErrNotFound, d.EntityID)
	}
	fillDescription(&d, r.now())
	if err := r.client.Dataset(r.dataset).Table(r.descriptionTable).Inserter().Put(ctx, &d); err != nil {
		return nil, fmt.Errorf("bigquery insert failed for description of %q: %w", d.EntityID, err)
	}
	return &d, nil
}

func (r *BigQueryRepository) Descriptions(ctx context.Context, entityID string) ([]model.Description, error) {
	return readAll[model.Description](ctx, r.client, fmt.Sprintf(QryListDescriptions, r.fqn(r.descriptionTable)),
		bigquery.QueryParameter{Name: "entity_id", Value: entityID},
	)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *BigQueryRepository) Search(ctx context.Context, t model.EntityType, query string, limit int) ([]model.Entity, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	q := strings.ToLower(strings.TrimSpace(query))
	return readAll[model.Entity](ctx, r.client, fmt.Sprintf(QrySearchEntities, r.fqn(r.entityTable)),
		bigquery.QueryParameter{Name: "entity_type", Value: string(t)},
		bigquery.QueryParameter{Name: "title_pattern", Value: "%" + likeEscaper.Replace(q) + "%"},
		bigquery.QueryParameter{Name: "slug_pattern", Value: "%" + likeEscaper.Replace(slug.Slugify(query)) + "%"},
		bigquery.QueryParameter{Name: "limit", Value: limit},
	)
}

// readAll runs a parameterized query and scans every row into a T.
func readAll[T any](ctx context.Context, client *bigquery.Client, sql string, params ...bigquery.QueryParameter) ([]T, error) {
	q := client.Query(sql)
	q.Parameters = params
	itr, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from BigQuery: %w", err)
	}
	var out []T
	for {
		var row T
		err := itr.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate results: %w", err)
		}
		out = append(out, row)
	}
	return out, nil
}
