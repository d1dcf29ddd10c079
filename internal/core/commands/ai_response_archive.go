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
	"time"

	"github.com/goccy/go-json"

	"github.com/jaycherian/gcp-go-media-metadata/internal/cloud"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

// archivedResponse is the object written per generation.
type archivedResponse struct {
	JobID      string           `json:"job_id"`
	EntityType model.EntityType `json:"entity_type"`
	Slug       string           `json:"slug"`
	Locale     model.Locale     `json:"locale"`
	Model      string           `json:"model"`
	Raw        string           `json:"raw"`
	Warnings   []string         `json:"warnings,omitempty"`
	ArchivedAt time.Time        `json:"archived_at"`
}

// AIResponseArchive writes the raw provider response to object storage for
// later auditing. Failures are logged and counted but never fail the job.
type AIResponseArchive struct {
	cor.BaseCommand
	writer cloud.ObjectWriter
	now    func() time.Time
}

// NewAIResponseArchive creates the stage; a nil writer disables it.
func NewAIResponseArchive(name string, writer cloud.ObjectWriter) *AIResponseArchive {
	out := &AIResponseArchive{BaseCommand: *cor.NewBaseCommand(name), writer: writer, now: time.Now}
	out.InputParamName = ParamGenerated
	return out
}

func (a *AIResponseArchive) IsExecutable(context cor.Context) bool {
	return a.writer != nil && unresolved(context) && context.Get(ParamGenerated) != nil
}

// ObjectName is "<collection>/<slug>/<job id>.json".
func ObjectName(task model.GenerationTask) string {
	return fmt.Sprintf("%s/%s/%s.json", task.EntityType.Collection(), task.Slug, task.JobID)
}

func (a *AIResponseArchive) Execute(context cor.Context) {
	ctx := context.GetContext()
	task := taskOf(context)
	generated := context.Get(ParamGenerated).(*model.GeneratedEntity)

	record := archivedResponse{
		JobID:      task.JobID,
		EntityType: task.EntityType,
		Slug:       task.Slug,
		Locale:     task.Locale,
		Model:      generated.Model,
		Raw:        generated.Raw,
		ArchivedAt: a.now().UTC(),
	}
	if outcome, ok := context.Get(ParamOutcome).(*model.ValidationOutcome); ok {
		record.Warnings = outcome.Warnings
	}
	data, err := json.Marshal(record)
	if err == nil {
		err = a.writer.WriteObject(ctx, ObjectName(task), "application/json", data)
	}
	if err != nil {
		if a.ErrorCounter != nil {
			a.ErrorCounter.Add(ctx, 1)
		}
		slog.WarnContext(ctx, "failed to archive ai response", "job_id", task.JobID, "error", err)
		return
	}
	a.Succeed(context)
}
