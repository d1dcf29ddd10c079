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
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/disambiguation"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
)

// MemoryRepository is an in-process Repository for tests and local runs.
type MemoryRepository struct {
	mu           sync.RWMutex
	now          func() time.Time
	seq          int64
	entities     map[string]*model.Entity
	bySlug       map[string]string
	descriptions map[string][]model.Description
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:          time.Now,
		entities:     make(map[string]*model.Entity),
		bySlug:       make(map[string]string),
		descriptions: make(map[string][]model.Description),
	}
}

func slugKey(t model.EntityType, s string) string {
	return string(t) + "/" + s
}

func (r *MemoryRepository) FindBySlug(_ context.Context, t model.EntityType, s string) (*model.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySlug[slugKey(t, s)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", model.ErrNotFound, t.Label(), s)
	}
	e := *r.entities[id]
	return &e, nil
}

func (r *MemoryRepository) FindByTitleSlug(_ context.Context, t model.EntityType, titleSlug string) ([]model.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Entity
	for _, e := range r.entities {
		if e.Type == t && e.TitleSlug == titleSlug {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *MemoryRepository) CreateEntity(_ context.Context, e model.Entity) (*model.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.bySlug[slugKey(e.Type, e.Slug)]; ok {
		existing := *r.entities[id]
		return &existing, fmt.Errorf("%w: %s", ErrEntityExists, e.Slug)
	}
	r.seq++
	fillEntity(&e, r.now(), r.seq)
	stored := e
	r.entities[e.ID] = &stored
	r.bySlug[slugKey(e.Type, e.Slug)] = e.ID
	return &e, nil
}

func (r *MemoryRepository) AddDescription(_ context.Context, d model.Description) (*model.Description, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[d.EntityID]; !ok {
		return nil, fmt.Errorf("%w: entity %q", model.ErrNotFound, d.EntityID)
	}
	fillDescription(&d, r.now())
	r.descriptions[d.EntityID] = append(r.descriptions[d.EntityID], d)
	return &d, nil
}

func (r *MemoryRepository) Descriptions(_ context.Context, entityID string) ([]model.Description, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.descriptions[entityID]), nil
}

func (r *MemoryRepository) Search(_ context.Context, t model.EntityType, query string, limit int) ([]model.Entity, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	qs := slug.Slugify(query)
	r.mu.RLock()
	var out []model.Entity
	for _, e := range r.entities {
		if e.Type != t {
			continue
		}
		if q == "" || strings.Contains(strings.ToLower(e.Title), q) || (qs != "" && strings.Contains(e.TitleSlug, qs)) {
			out = append(out, *e)
		}
	}
	r.mu.RUnlock()
	return capResults(disambiguation.RankLocal(out), limit), nil
}

func fillEntity(e *model.Entity, now time.Time, seq int64) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.TitleSlug == "" {
		e.TitleSlug = slug.Parse(e.Slug).TitleSlug
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
	if e.Seq == 0 {
		e.Seq = seq
	}
}

func fillDescription(d *model.Description, now time.Time) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now.UTC()
	}
	if d.Locale == "" {
		d.Locale = model.DefaultLocale
	}
	if d.ContextTag == "" {
		d.ContextTag = model.ContextDefault
	}
}

func capResults(in []model.Entity, limit int) []model.Entity {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
