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
	"strings"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/aioutput"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

// AIOutputValidation treats the generated payload as untrusted input. Every
// text field is sanitized; the description is length checked, scanned for
// injected instructions and, with the hallucination guard on, compared with
// the snapshot's overview.
type AIOutputValidation struct {
	cor.BaseCommand
	validator *aioutput.Validator
	compare   bool
}

func NewAIOutputValidation(name string, validator *aioutput.Validator, features model.Features) *AIOutputValidation {
	out := &AIOutputValidation{BaseCommand: *cor.NewBaseCommand(name), validator: validator, compare: features.HallucinationGuard}
	out.InputParamName = ParamGenerated
	out.OutputParamName = ParamOutcome
	return out
}

func (v *AIOutputValidation) IsExecutable(context cor.Context) bool {
	return unresolved(context) && context.Get(ParamGenerated) != nil
}

func (v *AIOutputValidation) Execute(context cor.Context) {
	ctx := context.GetContext()
	generated := context.Get(ParamGenerated).(*model.GeneratedEntity)

	var source *string
	if snap := snapshotOf(context); v.compare && snap != nil && snap.Overview != "" {
		source = &snap.Overview
	}
	outcome := v.validator.ValidateAndSanitizeDescription(ctx, generated.Description, source)

	generated.Title = v.validator.Sanitize(generated.Title)
	generated.Director = v.validator.Sanitize(generated.Director)
	generated.Genres = v.sanitizeAll(generated.Genres)
	generated.Cast = v.sanitizeAll(generated.Cast)
	if generated.Title == "" {
		outcome.Errors = append(outcome.Errors, "Title is empty after sanitization")
		outcome.Valid = false
	}

	if !outcome.Valid {
		v.Fail(context, fmt.Errorf("%w: %s", model.ErrValidation, strings.Join(outcome.Errors, "; ")))
		return
	}
	if len(outcome.Warnings) > 0 {
		slog.WarnContext(ctx, "ai output accepted with warnings", "job_id", taskOf(context).JobID, "warnings", outcome.Warnings)
	}
	generated.Description = outcome.Sanitized
	context.Add(v.GetOutputParam(), &outcome)
	v.Succeed(context)
}

func (v *AIOutputValidation) sanitizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = v.validator.Sanitize(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
