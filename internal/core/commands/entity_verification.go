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
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/verification"
)

// EntityVerification looks the task's slug up at the metadata provider and
// stores the match as the snapshot. It only runs when verification is on and
// no snapshot is known yet.
type EntityVerification struct {
	cor.BaseCommand
	verifier verification.Verifier
	enabled  bool
}

func NewEntityVerification(name string, verifier verification.Verifier, features model.Features) *EntityVerification {
	out := &EntityVerification{BaseCommand: *cor.NewBaseCommand(name), verifier: verifier, enabled: features.TMDbVerification}
	out.InputParamName = ParamTask
	return out
}

func (v *EntityVerification) IsExecutable(context cor.Context) bool {
	return v.enabled && v.verifier != nil && unresolved(context) &&
		context.Get(ParamTask) != nil && context.Get(ParamSnapshot) == nil && context.Get(ParamEntity) == nil
}

func (v *EntityVerification) Execute(context cor.Context) {
	ctx := context.GetContext()
	task := taskOf(context)

	found, err := v.verifier.FindExact(ctx, task.EntityType, task.Slug)
	if err != nil {
		v.Fail(context, err)
		return
	}
	if found == nil {
		candidates, err := v.verifier.Search(ctx, task.EntityType, task.Slug, verification.DefaultSearchLimit)
		if err != nil {
			v.Fail(context, err)
			return
		}
		switch len(candidates) {
		case 0:
			v.Fail(context, fmt.Errorf("%w: %s %q is unknown to %s", model.ErrNotFound, task.EntityType.Label(), task.Slug, v.verifier.Name()))
			return
		case 1:
			found = &candidates[0]
		default:
			v.Fail(context, fmt.Errorf("%w: %s %q matches %d candidates at %s", model.ErrNotFound, task.EntityType.Label(), task.Slug, len(candidates), v.verifier.Name()))
			return
		}
	}

	slog.InfoContext(ctx, "entity verified", "job_id", task.JobID, "slug", task.Slug,
		"provider", v.verifier.Name(), "external_id", found.ExternalID)
	context.Add(ParamSnapshot, found)
	v.Succeed(context)
}
