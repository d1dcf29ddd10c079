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

package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/confidence"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/services"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
)

// PreGenerationGuard re-checks a task on the worker side. Tasks can arrive
// over Pub/Sub, so nothing the request path decided is trusted.
//
// Logic Flow:
//  1. The slug is validated again (format and prompt injection).
//  2. The feature flag for the entity type must be on.
//  3. Unverified tasks go through the confidence guard.
//  4. If the entity exists locally and already has a description in the
//     task's locale and style, the task resolves to it without generation.
//     If it exists without one, it is handed on so only a description is
//     generated.
type PreGenerationGuard struct {
	cor.BaseCommand
	features   model.Features
	confidence *confidence.Validator
	repo       services.Repository
}

func NewPreGenerationGuard(name string, features model.Features, validator *confidence.Validator, repo services.Repository) *PreGenerationGuard {
	out := &PreGenerationGuard{BaseCommand: *cor.NewBaseCommand(name), features: features, confidence: validator, repo: repo}
	out.InputParamName = ParamTask
	return out
}

func (g *PreGenerationGuard) Execute(context cor.Context) {
	ctx := context.GetContext()
	task := taskOf(context)

	if _, err := slug.Validate(ctx, task.Slug); err != nil {
		g.Fail(context, err)
		return
	}
	if !g.features.GenerationEnabled(task.EntityType) {
		g.Fail(context, fmt.Errorf("%w: %s", model.ErrFeatureDisabled, model.FeatureName(task.EntityType)))
		return
	}
	if task.Snapshot == nil {
		if err := confidence.Guard(g.confidence.Score(task.Slug, task.EntityType), g.features); err != nil {
			g.Fail(context, err)
			return
		}
	} else {
		context.Add(ParamSnapshot, task.Snapshot)
	}

	existing, err := g.repo.FindBySlug(ctx, task.EntityType, task.Slug)
	switch {
	case errors.Is(err, model.ErrNotFound):
		g.Succeed(context)
		return
	case err != nil:
		g.Fail(context, err)
		return
	}

	descriptions, err := g.repo.Descriptions(ctx, existing.ID)
	if err != nil {
		g.Fail(context, err)
		return
	}
	for _, d := range descriptions {
		if d.Locale == task.Locale && d.ContextTag == task.ContextTag {
			slog.InfoContext(ctx, "description already exists, skipping generation",
				"job_id", task.JobID, "slug", task.Slug, "description_id", d.ID)
			context.Add(ParamResult, &model.JobResult{EntityID: existing.ID, DescriptionID: d.ID, Slug: existing.Slug})
			g.Succeed(context)
			return
		}
	}
	context.Add(ParamEntity, existing)
	g.Succeed(context)
}
