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

// Package services holds the catalogue's data access and read-side business
// logic: the entity repository, local retrieval with description selection,
// search, bulk lookups and description coverage reports.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

var (
	// ErrEntityExists is returned by CreateEntity when the slug is taken.
	ErrEntityExists = errors.New("entity already exists")
	// ErrDescriptionNotFound is returned when a requested description id does
	// not belong to the entity.
	ErrDescriptionNotFound = fmt.Errorf("%w: description", model.ErrNotFound)
)

// Repository stores entities and their descriptions.
type Repository interface {
	// FindBySlug returns the entity with the exact slug or model.ErrNotFound.
	FindBySlug(ctx context.Context, t model.EntityType, slug string) (*model.Entity, error)
	// FindByTitleSlug returns every entity sharing a title slug, in no
	// particular order.
	FindByTitleSlug(ctx context.Context, t model.EntityType, titleSlug string) ([]model.Entity, error)
	// CreateEntity stores e, filling ID, TitleSlug, CreatedAt and Seq. When
	// the slug is already taken it returns the stored entity and an error
	// wrapping ErrEntityExists.
	CreateEntity(ctx context.Context, e model.Entity) (*model.Entity, error)
	// AddDescription stores d, filling ID and CreatedAt.
	AddDescription(ctx context.Context, d model.Description) (*model.Description, error)
	// Descriptions lists an entity's descriptions, oldest first.
	Descriptions(ctx context.Context, entityID string) ([]model.Description, error)
	// Search matches titles case-insensitively. Results are ranked newest
	// first and capped at limit.
	Search(ctx context.Context, t model.EntityType, query string, limit int) ([]model.Entity, error)
}
