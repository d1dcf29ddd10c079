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
	"strings"
	"unicode/utf8"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 50
	maxQueryLength     = 200
)

// SearchService runs title searches against the local catalogue.
type SearchService struct {
	repo Repository
}

func NewSearchService(repo Repository) *SearchService {
	return &SearchService{repo: repo}
}

// Search finds entities whose title contains query.
//
// Inputs:
//   - ctx: The request context.
//   - t: The entity type to search.
//   - query: Free text, matched case-insensitively against titles.
//   - limit: Maximum results; non-positive takes DefaultSearchLimit and
//     values above MaxSearchLimit are capped.
//
// Outputs:
//   - []model.Entity: Matches, newest first. Never nil.
//   - error: model.ErrValidation for an empty or oversized query.
func (s *SearchService) Search(ctx context.Context, t model.EntityType, query string, limit int) ([]model.Entity, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", model.ErrValidation)
	}
	if utf8.RuneCountInString(query) > maxQueryLength {
		return nil, fmt.Errorf("%w: query exceeds %d characters", model.ErrValidation, maxQueryLength)
	}
	switch {
	case limit <= 0:
		limit = DefaultSearchLimit
	case limit > MaxSearchLimit:
		limit = MaxSearchLimit
	}
	out, err := s.repo.Search(ctx, t, query, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Entity{}
	}
	return out, nil
}
