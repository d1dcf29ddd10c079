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

// Package commands holds the stages of the generation pipeline. Each stage is
// a cor.Command; workflow.GenerationWorkflow chains them in this order:
//
//  1. PreGenerationGuard rejects tasks that must not reach the AI provider and
//     short-circuits tasks whose description already exists.
//  2. EntityVerification confirms the entity at the metadata provider when the
//     request path did not already do so.
//  3. AIGeneration asks the AI provider for the entity.
//  4. AIOutputValidation sanitizes the payload and checks it against the
//     provider's ground truth.
//  5. AIResponseArchive stores the raw provider response (best effort).
//  6. EntityPersist writes the entity and its description.
//
// Stages talk through the keys below.
package commands

import (
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

const (
	// ParamTask holds the model.GenerationTask being processed.
	ParamTask = "__TASK__"
	// ParamSnapshot holds the verified *model.Candidate.
	ParamSnapshot = "__SNAPSHOT__"
	// ParamEntity holds the *model.Entity when it already exists locally.
	ParamEntity = "__ENTITY__"
	// ParamGenerated holds the *model.GeneratedEntity from the AI provider.
	ParamGenerated = "__GENERATED__"
	// ParamOutcome holds the *model.ValidationOutcome of the description.
	ParamOutcome = "__OUTCOME__"
	// ParamResult holds the *model.JobResult. Once it is set the remaining
	// stages are skipped.
	ParamResult = "__RESULT__"
)

func taskOf(context cor.Context) model.GenerationTask {
	return context.Get(ParamTask).(model.GenerationTask)
}

func snapshotOf(context cor.Context) *model.Candidate {
	c, _ := context.Get(ParamSnapshot).(*model.Candidate)
	return c
}

func entityOf(context cor.Context) *model.Entity {
	e, _ := context.Get(ParamEntity).(*model.Entity)
	return e
}

// ResultOf returns the job result a chain produced, or nil.
func ResultOf(context cor.Context) *model.JobResult {
	r, _ := context.Get(ParamResult).(*model.JobResult)
	return r
}

// unresolved reports whether the chain still has work to do for the task.
func unresolved(context cor.Context) bool {
	return context != nil && context.GetContext() != nil && context.Get(ParamResult) == nil
}
