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
	"log/slog"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/services"
)

// EntityPersist stores the entity (unless it already exists) and the new
// description, then records the job result.
//
// Provider facts win over generated ones: when a snapshot is known its title,
// year and director are stored instead of the model's.
type EntityPersist struct {
	cor.BaseCommand
	repo services.Repository
}

func NewEntityPersist(name string, repo services.Repository) *EntityPersist {
	out := &EntityPersist{BaseCommand: *cor.NewBaseCommand(name), repo: repo}
	out.InputParamName = ParamOutcome
	out.OutputParamName = ParamResult
	return out
}

func (p *EntityPersist) IsExecutable(context cor.Context) bool {
	return unresolved(context) && context.Get(ParamOutcome) != nil && context.Get(ParamGenerated) != nil
}

func (p *EntityPersist) Execute(context cor.Context) {
	ctx := context.GetContext()
	task := taskOf(context)
	generated := context.Get(ParamGenerated).(*model.GeneratedEntity)
	outcome := context.Get(ParamOutcome).(*model.ValidationOutcome)

	entity := entityOf(context)
	if entity == nil {
		created, err := p.repo.CreateEntity(ctx, newEntity(task, generated, snapshotOf(context)))
		switch {
		case errors.Is(err, services.ErrEntityExists):
			slog.InfoContext(ctx, "entity created concurrently, attaching description", "job_id", task.JobID, "slug", task.Slug)
		case err != nil:
			p.Fail(context, err)
			return
		}
		entity = created
	}

	description, err := p.repo.AddDescription(ctx, model.Description{
		EntityID:   entity.ID,
		Locale:     task.Locale,
		ContextTag: task.ContextTag,
		Text:       outcome.Sanitized,
		Origin:     model.OriginGenerated,
		AIModel:    generated.Model,
	})
	if err != nil {
		p.Fail(context, err)
		return
	}

	slog.InfoContext(ctx, "entity persisted", "job_id", task.JobID, "entity_id", entity.ID, "description_id", description.ID)
	context.Add(ParamResult, &model.JobResult{
		EntityID:      entity.ID,
		DescriptionID: description.ID,
		Slug:          entity.Slug,
		Warnings:      outcome.Warnings,
	})
	p.Succeed(context)
}

func newEntity(task model.GenerationTask, g *model.GeneratedEntity, snap *model.Candidate) model.Entity {
	e := model.Entity{
		Type:     task.EntityType,
		Slug:     task.Slug,
		Title:    g.Title,
		Year:     g.Year,
		Director: g.Director,
		Genres:   g.Genres,
		Cast:     g.Cast,
	}
	if snap != nil {
		e.ExternalID = snap.ExternalID
		if snap.Title != "" {
			e.Title = snap.Title
		}
		if snap.Year != 0 {
			e.Year = snap.Year
		}
		if snap.Director != "" {
			e.Director = snap.Director
		}
	}
	return e
}
