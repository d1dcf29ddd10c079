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

// Package jobs tracks the lifecycle of asynchronous generation jobs. A job is
// created PENDING and moves to DONE or FAILED exactly once. At most one
// non-terminal job exists per (entity type, slug); asking again while one is
// pending returns the existing job.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

// DefaultTTL is how long a job record is kept after creation.
const DefaultTTL = 15 * time.Minute

// ErrNotPending is returned when a terminal transition targets a job that has
// already finished.
var ErrNotPending = errors.New("job is not pending")

// Store is the job state store.
type Store interface {
	// Create returns the pending job for the request's (entity type, slug),
	// creating it when none exists. The bool reports whether a new job was made.
	Create(ctx context.Context, req model.GenerationRequest) (model.Job, bool, error)
	// Get loads a job by id. The bool is false when the job is unknown or expired.
	Get(ctx context.Context, id string) (model.Job, bool, error)
	MarkDone(ctx context.Context, id string, result model.JobResult) error
	MarkFailed(ctx context.Context, id string, jobErr model.JobError) error
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

func slotKey(t model.EntityType, slug string) string {
	return "ai_job_slot:" + string(t) + ":" + slug
}

func jobKey(id string) string {
	return "ai_job:" + id
}

func newJob(req model.GenerationRequest, now time.Time) model.Job {
	job := model.Job{
		ID:              uuid.NewString(),
		Status:          model.JobPending,
		Entity:          req.EntityType,
		Slug:            req.Slug,
		Locale:          model.LocaleOrDefault(string(req.Locale)),
		ContextTag:      req.ContextTag,
		ConfidenceLevel: req.Confidence.Level,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if job.ContextTag == "" {
		job.ContextTag = model.ContextDefault
	}
	if req.RequestedSlug != "" && req.RequestedSlug != req.Slug {
		job.RequestedSlug = req.RequestedSlug
	}
	if req.Confidence.Level != "" && req.Confidence.Level != model.ConfidenceUnknown {
		score := req.Confidence.Score
		job.Confidence = &score
	}
	return job
}

func applyDone(job model.Job, result model.JobResult, now time.Time) model.Job {
	job.Status = model.JobDone
	job.EntityID = result.EntityID
	job.DescriptionID = result.DescriptionID
	if result.Slug != "" {
		job.Slug = result.Slug
	}
	job.Warnings = result.Warnings
	job.Error = nil
	job.UpdatedAt = now
	return job
}

func applyFailed(job model.Job, jobErr model.JobError, now time.Time) model.Job {
	job.Status = model.JobFailed
	job.Error = &jobErr
	job.UpdatedAt = now
	return job
}
