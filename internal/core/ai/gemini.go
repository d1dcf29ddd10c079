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

package ai

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"

	"github.com/jaycherian/gcp-go-media-metadata/internal/cloud"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

// Gemini generates with a Vertex AI Gemini model.
type Gemini struct {
	model        *cloud.QuotaAwareGenerativeAIModel
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	retries      metric.Int64Counter
	now          func() time.Time
}

// NewGemini wraps a quota aware model.
func NewGemini(m *cloud.QuotaAwareGenerativeAIModel) *Gemini {
	meter := otel.Meter(cor.MeterName)
	g := &Gemini{model: m, now: time.Now}
	g.inputTokens, _ = meter.Int64Counter("ai.gemini.token.input")
	g.outputTokens, _ = meter.Int64Counter("ai.gemini.token.output")
	g.retries, _ = meter.Int64Counter("ai.gemini.retry")
	return g
}

func (g *Gemini) Name() string { return "gemini:" + g.model.ModelName }

// Generate sends the rendered prompt as a single user turn. The system prompt
// is prepended to the user text so it composes with the model's configured
// system instructions.
func (g *Gemini) Generate(ctx context.Context, req Request) (model.GeneratedEntity, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return model.GeneratedEntity{}, err
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt.System}, {Text: prompt.User}},
	}}

	out, err := cloud.GenerateMultiModalResponse(ctx, g.inputTokens, g.outputTokens, g.retries, g.model, contents)
	if err != nil {
		return model.GeneratedEntity{}, fmt.Errorf("%w: gemini: %w", model.ErrAIProvider, err)
	}
	entity, err := DecodePayload(out, req, g.now())
	if err != nil {
		return model.GeneratedEntity{}, err
	}
	entity.Model = g.model.ModelName
	return entity, nil
}
