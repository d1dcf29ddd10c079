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

// Package cloud provides wrappers around Google Cloud clients. This file
// defines QuotaAwareGenerativeAIModel, a decorator that keeps calls to a
// Gemini model under the requests-per-second quota configured for it.
package cloud

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// ContentGenerator is the subset of *genai.Models the wrapper calls.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// QuotaAwareGenerativeAIModel pairs a model name and its generation config
// with a rate limiter. Retries are the caller's concern; see
// GenerateMultiModalResponse.
type QuotaAwareGenerativeAIModel struct {
	GenerativeContentConfig *genai.GenerateContentConfig
	ModelName               string
	ModelHandle             ContentGenerator
	RateLimit               *rate.Limiter
}

// NewQuotaAwareModel wraps a model.
//
// Inputs:
//   - wrapped: The generation config sent with every request.
//   - name: The model name, e.g. "gemini-2.0-flash".
//   - handle: Usually genai.Client.Models.
//   - requestsPerSecond: The sustained rate and burst; values below one mean one.
func NewQuotaAwareModel(wrapped *genai.GenerateContentConfig, name string, handle ContentGenerator, requestsPerSecond int) *QuotaAwareGenerativeAIModel {
	if requestsPerSecond < 1 {
		requestsPerSecond = 1
	}
	return &QuotaAwareGenerativeAIModel{
		GenerativeContentConfig: wrapped,
		ModelName:               name,
		ModelHandle:             handle,
		RateLimit:               rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// GenerateContent waits for quota and then calls the model once.
func (q *QuotaAwareGenerativeAIModel) GenerateContent(ctx context.Context, content []*genai.Content) (*genai.GenerateContentResponse, error) {
	if err := q.RateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for %s quota: %w", q.ModelName, err)
	}
	return q.ModelHandle.GenerateContent(ctx, q.ModelName, content, q.GenerativeContentConfig)
}

// NewGenerateContentConfig turns a model's TOML settings into a Gemini
// generation config.
func NewGenerateContentConfig(values VertexAiLLMModel) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(values.Temperature),
		TopP:             genai.Ptr(values.TopP),
		TopK:             genai.Ptr(values.TopK),
		MaxOutputTokens:  values.MaxTokens,
		SafetySettings:   DefaultSafetySettings,
		ResponseMIMEType: values.OutputFormat,
	}
	if values.SystemInstructions != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: values.SystemInstructions}}}
	}
	if values.EnableGoogle {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return cfg
}
