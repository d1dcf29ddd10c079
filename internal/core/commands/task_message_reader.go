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

	"github.com/goccy/go-json"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

// TaskMessageReader decodes a queued generation message (the raw bytes under
// the input parameter) into the task the pipeline stages read.
type TaskMessageReader struct {
	cor.BaseCommand
}

func NewTaskMessageReader(name string) *TaskMessageReader {
	out := &TaskMessageReader{BaseCommand: *cor.NewBaseCommand(name)}
	out.OutputParamName = ParamTask
	return out
}

func (r *TaskMessageReader) Execute(context cor.Context) {
	task, err := DecodeTask(context.Get(r.GetInputParam()))
	if err != nil {
		r.Fail(context, err)
		return
	}
	context.Add(r.GetOutputParam(), task)
	r.Succeed(context)
}

// DecodeTask accepts the message as []byte or string.
func DecodeTask(in any) (model.GenerationTask, error) {
	var raw []byte
	switch v := in.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return model.GenerationTask{}, fmt.Errorf("%w: unsupported message type %T", model.ErrValidation, in)
	}

	var task model.GenerationTask
	if err := json.Unmarshal(raw, &task); err != nil {
		return task, fmt.Errorf("%w: failed to unmarshal generation task: %w", model.ErrValidation, err)
	}
	if task.JobID == "" || task.Slug == "" {
		return task, fmt.Errorf("%w: generation task without job id or slug", model.ErrValidation)
	}
	t, err := model.ParseEntityType(string(task.EntityType))
	if err != nil {
		return task, err
	}
	task.EntityType = t
	task.Locale = model.LocaleOrDefault(string(task.Locale))
	if task.ContextTag == "" {
		task.ContextTag = model.ContextDefault
	}
	return task, nil
}
