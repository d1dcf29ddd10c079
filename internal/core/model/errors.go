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

package model

import "errors"

// ErrorType is the stable, machine readable classification carried in every
// error response body and in failed job records.
type ErrorType string

const (
	ErrorValidation          ErrorType = "VALIDATION_ERROR"
	ErrorPromptInjection     ErrorType = "PROMPT_INJECTION_DETECTED"
	ErrorNotFound            ErrorType = "NOT_FOUND"
	ErrorAmbiguousMatch      ErrorType = "AMBIGUOUS_MATCH"
	ErrorSelectionNotFound   ErrorType = "SELECTION_NOT_FOUND"
	ErrorProviderUnavailable ErrorType = "PROVIDER_UNAVAILABLE"
	ErrorRateLimited         ErrorType = "RATE_LIMITED"
	ErrorFeatureDisabled     ErrorType = "FEATURE_DISABLED"
	ErrorAIAPI               ErrorType = "AI_API_ERROR"
	ErrorTimeout             ErrorType = "TIMEOUT"
	ErrorUnknown             ErrorType = "UNKNOWN_ERROR"
)

// Sentinel errors. Components wrap these with fmt.Errorf("...: %w", ...) and
// callers classify with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrPromptInjection     = errors.New("potential prompt injection detected")
	ErrNotFound            = errors.New("not found")
	ErrSelectionNotFound   = errors.New("selection not found in search results")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrFeatureDisabled     = errors.New("feature not available")
	ErrAIProvider          = errors.New("ai provider error")
	ErrInvalidEntityType   = errors.New("invalid entity type")
	ErrInvalidLocale       = errors.New("invalid locale")
	ErrInvalidContextTag   = errors.New("invalid context tag")
)

// Classify maps an error chain onto the error taxonomy.
func Classify(err error) ErrorType {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPromptInjection):
		return ErrorPromptInjection
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidEntityType),
		errors.Is(err, ErrInvalidLocale), errors.Is(err, ErrInvalidContextTag):
		return ErrorValidation
	case errors.Is(err, ErrSelectionNotFound):
		return ErrorSelectionNotFound
	case errors.Is(err, ErrNotFound):
		return ErrorNotFound
	case errors.Is(err, ErrProviderUnavailable):
		return ErrorProviderUnavailable
	case errors.Is(err, ErrFeatureDisabled):
		return ErrorFeatureDisabled
	case errors.Is(err, ErrAIProvider):
		return ErrorAIAPI
	}
	return ErrorUnknown
}
