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

package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/ratelimit"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/workflow"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return fe.Field() + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s long", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed the %s check", fe.Field(), fe.Tag())
}

// generateRequest is the body of POST /generate. entity_id is accepted as an
// alias of slug.
type generateRequest struct {
	EntityType string `json:"entity_type" validate:"required,max=32"`
	Slug       string `json:"slug" validate:"required_without=EntityID,max=255"`
	EntityID   string `json:"entity_id" validate:"max=255"`
	Locale     string `json:"locale" validate:"max=16"`
	ContextTag string `json:"context_tag" validate:"max=32"`
}

// generate handles POST /generate: an explicit request to create (or add a
// description to) an entity.
//
// Logic Flow:
//  1. Decode and validate the body.
//  2. Resolve the entity type, locale and context tag; gate on the feature
//     flag and, for keyed requests, the plan.
//  3. Validate the slug and score it.
//  4. Queue the job; the workers verify the slug against the provider.
func (s *Server) generate(c *gin.Context) {
	ctx := c.Request.Context()
	var req generateRequest
	if !decodeJSON(c, &req) {
		return
	}
	raw := req.Slug
	if raw == "" {
		raw = req.EntityID
	}

	t, err := model.ParseEntityType(req.EntityType)
	if err != nil {
		names := make([]string, 0, len(model.EntityTypes))
		for _, et := range model.EntityTypes {
			names = append(names, string(et))
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid entity type",
			"type":    model.ErrorValidation,
			"message": "entity_type must be one of " + strings.Join(names, ", "),
		})
		return
	}
	if !s.deps.Features.GenerationEnabled(t) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "Feature not available",
			"type":    model.ErrorFeatureDisabled,
			"message": model.FeatureName(t) + " is disabled",
		})
		return
	}
	locale, err := model.ParseLocale(req.Locale)
	if err != nil {
		respondError(c, t, err)
		return
	}
	tag, err := model.ParseContextTag(req.ContextTag)
	if err != nil {
		respondError(c, t, err)
		return
	}
	if tag != model.ContextDefault && !planHas(c, ratelimit.FeatureContextTags) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "Feature not available",
			"type":    model.ErrorFeatureDisabled,
			"message": "Context tags are not included in this plan",
		})
		return
	}

	normalized, err := slug.Validate(ctx, raw)
	if err != nil {
		invalidSlug(c, raw, err)
		return
	}
	conf := s.deps.Confidence.Score(normalized, t)

	job, reused, err := s.deps.Orchestrator.RequestGeneration(ctx, model.GenerationRequest{
		EntityType: t,
		Slug:       normalized,
		Locale:     locale,
		ContextTag: tag,
		Confidence: conf,
	})
	switch {
	case errors.Is(err, workflow.ErrDispatch):
		dispatchFailed(c, job)
		return
	case errors.Is(err, model.ErrValidation):
		lowConfidence(c, t, normalized, conf, err)
		return
	case err != nil:
		respondError(c, t, err)
		return
	}

	message := workflow.QueuedMessage(t, reused)
	if !reused && s.exists(c, t, normalized) {
		message = "Generation queued for existing " + t.Label() + " slug"
	}
	c.JSON(http.StatusAccepted, queued(job, message, conf))
}

func (s *Server) exists(c *gin.Context, t model.EntityType, normalized string) bool {
	if s.deps.Retrieval == nil {
		return false
	}
	_, err := s.deps.Retrieval.Find(c.Request.Context(), t, normalized, model.DefaultLocale, "")
	return err == nil
}
