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

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/confidence"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/jobs"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

// ErrDispatch wraps a failure to hand a new job to the workers. The job has
// been marked FAILED when it is returned.
var ErrDispatch = errors.New("generation could not be queued")

// Orchestrator decides whether a generation job is needed and queues it.
type Orchestrator struct {
	store      jobs.Store
	dispatcher Dispatcher
	features   model.Features
	formatter  jobs.ErrorFormatter
	observer   Observer
}

func NewOrchestrator(store jobs.Store, dispatcher Dispatcher, features model.Features, observer Observer) *Orchestrator {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Orchestrator{store: store, dispatcher: dispatcher, features: features, observer: observer}
}

// RequestGeneration queues a generation job for (entity type, slug), or
// returns the job already pending for it.
//
// Inputs:
//   - ctx: The request context.
//   - req: The request. Requests without a verified snapshot must pass the
//     confidence guard.
//
// Outputs:
//   - model.Job: The new or existing job.
//   - bool: True when an existing pending job was reused.
//   - error: model.ErrFeatureDisabled, model.ErrValidation from the guard,
//     store errors, or ErrDispatch together with the FAILED job.
func (o *Orchestrator) RequestGeneration(ctx context.Context, req model.GenerationRequest) (model.Job, bool, error) {
	if !o.features.GenerationEnabled(req.EntityType) {
		return model.Job{}, false, fmt.Errorf("%w: %s", model.ErrFeatureDisabled, model.FeatureName(req.EntityType))
	}
	if req.Snapshot == nil {
		if err := confidence.Guard(req.Confidence, o.features); err != nil {
			return model.Job{}, false, err
		}
	}
	req.Locale = model.LocaleOrDefault(string(req.Locale))
	if req.ContextTag == "" {
		req.ContextTag = model.ContextDefault
	}

	job, created, err := o.store.Create(ctx, req)
	if err != nil {
		return model.Job{}, false, err
	}
	o.observer.JobRequested(req.EntityType, !created)
	if !created {
		slog.InfoContext(ctx, "generation already pending", "job_id", job.ID, "slug", job.Slug)
		return job, true, nil
	}

	task := model.GenerationTask{
		JobID:         job.ID,
		EntityType:    job.Entity,
		Slug:          job.Slug,
		RequestedSlug: job.RequestedSlug,
		Locale:        req.Locale,
		ContextTag:    req.ContextTag,
		Snapshot:      req.Snapshot,
	}
	if err := o.dispatcher.Dispatch(ctx, task); err != nil {
		jobErr := o.formatter.Format(err, req.EntityType)
		if markErr := o.store.MarkFailed(context.WithoutCancel(ctx), job.ID, jobErr); markErr != nil {
			slog.ErrorContext(ctx, "failed to mark undispatched job", "job_id", job.ID, "error", markErr)
		}
		if failed, ok, _ := o.store.Get(context.WithoutCancel(ctx), job.ID); ok {
			job = failed
		}
		return job, false, fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	slog.InfoContext(ctx, "generation queued", "job_id", job.ID, "entity_type", job.Entity, "slug", job.Slug)
	return job, false, nil
}

// QueuedMessage is the human readable 202 message.
func QueuedMessage(t model.EntityType, reused bool) string {
	if reused {
		return fmt.Sprintf("Generation already queued for %s slug", t.Label())
	}
	return fmt.Sprintf("Generation queued for %s by slug", t.Label())
}

// NewGenerationListener is the command a cloud.PubSubListener runs for each
// message: decode the task, then run the workflow.
func NewGenerationListener(w *GenerationWorkflow) cor.Chain {
	return cor.NewBaseChain("generation-listener").
		AddCommand(commands.NewTaskMessageReader("task-message-reader")).
		AddCommand(w)
}
