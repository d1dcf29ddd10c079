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

// Package workflow assembles the generation pipeline and moves generation
// requests from the HTTP path to the workers that run it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-media-metadata/internal/cloud"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/ai"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/aioutput"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/confidence"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/jobs"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/services"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/verification"
)

const (
	// DefaultWorkerTimeout bounds one job.
	DefaultWorkerTimeout = 120 * time.Second
	// finishTimeout bounds the final job store write, which runs even when
	// the job itself timed out.
	finishTimeout = 5 * time.Second
)

// Observer is told about job lifecycle events. The metrics package
// implements it.
type Observer interface {
	JobRequested(t model.EntityType, reused bool)
	JobFinished(t model.EntityType, status model.JobStatus, errType model.ErrorType, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) JobRequested(model.EntityType, bool) {}

func (nopObserver) JobFinished(model.EntityType, model.JobStatus, model.ErrorType, time.Duration) {}

// Dependencies are the collaborators of the generation pipeline.
type Dependencies struct {
	Features        model.Features
	Confidence      *confidence.Validator
	Repository      services.Repository
	Verifier        verification.Verifier
	Provider        ai.Provider
	OutputValidator *aioutput.Validator
	// Archive is optional; nil disables the response archive stage.
	Archive  cloud.ObjectWriter
	Store    jobs.Store
	Timeout  time.Duration
	Observer Observer
}

// GenerationWorkflow runs one generation job end to end and records its
// outcome in the job store.
type GenerationWorkflow struct {
	cor.BaseCommand
	chain     cor.Chain
	store     jobs.Store
	timeout   time.Duration
	formatter jobs.ErrorFormatter
	observer  Observer
}

// NewGenerationWorkflow builds the pipeline chain.
func NewGenerationWorkflow(deps Dependencies) *GenerationWorkflow {
	if deps.Timeout <= 0 {
		deps.Timeout = DefaultWorkerTimeout
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Confidence == nil {
		deps.Confidence = confidence.New(confidence.DefaultThresholds())
	}
	if deps.OutputValidator == nil {
		deps.OutputValidator = aioutput.NewValidator(aioutput.DefaultPolicy())
	}

	w := &GenerationWorkflow{
		BaseCommand: *cor.NewBaseCommand("generation-workflow"),
		store:       deps.Store,
		timeout:     deps.Timeout,
		observer:    deps.Observer,
	}
	w.InputParamName = commands.ParamTask

	chain := cor.NewBaseChain(w.GetName())
	chain.AddCommand(commands.NewPreGenerationGuard("pre-generation-guard", deps.Features, deps.Confidence, deps.Repository))
	chain.AddCommand(commands.NewEntityVerification("entity-verification", deps.Verifier, deps.Features))
	chain.AddCommand(commands.NewAIGeneration("ai-generation", deps.Provider))
	chain.AddCommand(commands.NewAIOutputValidation("ai-output-validation", deps.OutputValidator, deps.Features))
	chain.AddCommand(commands.NewAIResponseArchive("ai-response-archive", deps.Archive))
	chain.AddCommand(commands.NewEntityPersist("entity-persist", deps.Repository))
	w.chain = chain
	return w
}

// Execute runs the task found under commands.ParamTask. Job failures are
// recorded in the job store, not on context; only a failed store write is
// reported as an error so the message can be redelivered.
func (w *GenerationWorkflow) Execute(context cor.Context) {
	task := context.Get(commands.ParamTask).(model.GenerationTask)
	if err := w.Run(context.GetContext(), task); err != nil {
		w.Fail(context, err)
		return
	}
	w.Succeed(context)
}

// Run executes the pipeline for one task.
//
// Logic Flow:
//  1. The chain runs in its own goroutine under the worker timeout. A panic
//     in any stage is recovered and recorded as a chain error.
//  2. If the timeout fires first, the job fails with a timeout error; the
//     chain sees the cancelled context and stops at its next stage.
//  3. The first chain error becomes the job error; otherwise the result of
//     the chain marks the job DONE. The store write uses a fresh deadline.
//
// Inputs:
//   - ctx: The worker context. Cancelling it aborts the job.
//   - task: The queued task.
//
// Outputs:
//   - error: Only store errors. A job that has already finished is not an error.
func (w *GenerationWorkflow) Run(ctx context.Context, task model.GenerationTask) error {
	started := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	chainCtx := cor.NewContextFor(runCtx)
	chainCtx.Add(commands.ParamTask, task)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(runCtx, "generation pipeline panicked", "job_id", task.JobID, "panic", r)
				chainCtx.AddError(w.GetName(), fmt.Errorf("pipeline panic: %v", r))
			}
		}()
		w.chain.Execute(chainCtx)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		chainCtx.AddError(w.GetName(), fmt.Errorf("job %s: %w", task.JobID, runCtx.Err()))
	}

	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer finishCancel()

	err := chainCtx.FirstError()
	result := commands.ResultOf(chainCtx)
	if err == nil && result == nil {
		err = errors.New("generation pipeline produced no result")
	}

	if err != nil {
		jobErr := w.formatter.Format(err, task.EntityType)
		slog.WarnContext(ctx, "generation job failed", "job_id", task.JobID, "slug", task.Slug,
			"error_type", jobErr.Type, "error", err)
		w.observer.JobFinished(task.EntityType, model.JobFailed, jobErr.Type, time.Since(started))
		return w.finish(w.store.MarkFailed(finishCtx, task.JobID, jobErr), task)
	}

	slog.InfoContext(ctx, "generation job done", "job_id", task.JobID, "slug", result.Slug,
		"entity_id", result.EntityID, "description_id", result.DescriptionID)
	w.observer.JobFinished(task.EntityType, model.JobDone, "", time.Since(started))
	return w.finish(w.store.MarkDone(finishCtx, task.JobID, *result), task)
}

func (w *GenerationWorkflow) finish(err error, task model.GenerationTask) error {
	if errors.Is(err, jobs.ErrNotPending) {
		slog.Warn("job already finished", "job_id", task.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("recording outcome of job %s: %w", task.JobID, err)
	}
	return nil
}
