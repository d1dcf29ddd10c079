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
	"log/slog"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/ai"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/cor"
)

// AIGeneration calls the AI provider with the task and the snapshot, if any.
// The provider returns an already validated payload or an error.
type AIGeneration struct {
	cor.BaseCommand
	provider ai.Provider
}

func NewAIGeneration(name string, provider ai.Provider) *AIGeneration {
	out := &AIGeneration{BaseCommand: *cor.NewBaseCommand(name), provider: provider}
	out.InputParamName = ParamTask
	out.OutputParamName = ParamGenerated
	return out
}

func (g *AIGeneration) IsExecutable(context cor.Context) bool {
	return unresolved(context) && context.Get(ParamTask) != nil
}

func (g *AIGeneration) Execute(context cor.Context) {
	ctx := context.GetContext()
	task := taskOf(context)

	generated, err := g.provider.Generate(ctx, ai.Request{
		EntityType: task.EntityType,
		Slug:       task.Slug,
		Locale:     task.Locale,
		ContextTag: task.ContextTag,
		Snapshot:   snapshotOf(context),
	})
	if err != nil {
		g.Fail(context, err)
		return
	}
	slog.InfoContext(ctx, "ai generation complete", "job_id", task.JobID, "slug", task.Slug, "provider", g.provider.Name())
	context.Add(g.GetOutputParam(), &generated)
	g.Succeed(context)
}
