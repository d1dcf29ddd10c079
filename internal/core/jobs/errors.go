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

package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

// ErrorFormatter turns a pipeline failure into the structured error stored on
// a FAILED job. UserMessage never carries the underlying error text.
type ErrorFormatter struct{}

// Format classifies err and builds the job error for an entity type.
//
// Inputs:
//   - err: The failure; nil is reported as an unknown error.
//   - entityType: Used to word the messages ("movie", "person", ...).
//
// Outputs:
//   - model.JobError: The structured error.
func (ErrorFormatter) Format(err error, entityType model.EntityType) model.JobError {
	if err == nil {
		err = errors.New("job failed without an error")
	}
	t := classify(err)
	short, user := messages(t, entityType.Label())
	return model.JobError{
		Type:             t,
		Message:          short,
		TechnicalMessage: err.Error(),
		UserMessage:      user,
	}
}

func classify(err error) model.ErrorType {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrorTimeout
	}
	if t := model.Classify(err); t != "" {
		return t
	}
	return model.ErrorUnknown
}

func messages(t model.ErrorType, label string) (string, string) {
	switch t {
	case model.ErrorNotFound, model.ErrorSelectionNotFound:
		return fmt.Sprintf("The requested %s was not found", label),
			fmt.Sprintf("This %s does not exist in our database", label)
	case model.ErrorAIAPI:
		return "AI API returned an error",
			"AI service is temporarily unavailable. Please try again later."
	case model.ErrorValidation, model.ErrorPromptInjection:
		return "AI data validation failed",
			"Generated data failed validation checks. Please try again."
	case model.ErrorProviderUnavailable:
		return "Verification provider is unavailable",
			fmt.Sprintf("We could not verify this %s right now. Please try again later.", label)
	case model.ErrorFeatureDisabled:
		return "Generation is disabled",
			"This feature is not available."
	case model.ErrorTimeout:
		return "Generation timed out",
			"Generation took too long. Please try again later."
	}
	return "An unexpected error occurred",
		"An unexpected error occurred. Please try again later."
}
