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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/disambiguation"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/ratelimit"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/workflow"
)

// entityResponse is the 200 body of an entity lookup.
type entityResponse struct {
	*model.Entity
	Description       *model.Description   `json:"description"`
	DescriptionsCount int                  `json:"descriptions_count"`
	Meta              *disambiguation.Meta `json:"_meta,omitempty"`
}

func newEntityResponse(view *model.EntityView, meta *disambiguation.Meta) entityResponse {
	return entityResponse{
		Entity:            view.Entity,
		Description:       view.Description,
		DescriptionsCount: view.DescriptionsCount,
		Meta:              meta,
	}
}

type bulkRequest struct {
	Slugs  []string `json:"slugs" validate:"required,min=1,max=50,dive,required,max=255"`
	Locale string   `json:"locale" validate:"omitempty,max=16"`
}

type bulkEntry struct {
	Slug  string          `json:"slug"`
	Found bool            `json:"found"`
	Data  *entityResponse `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// collection serves the routes of one entity type.
type collection struct {
	*Server
	entityType model.EntityType
}

func (s *Server) collectionRouter(r *gin.RouterGroup, t model.EntityType) {
	h := &collection{Server: s, entityType: t}
	g := r.Group("/" + t.Collection())
	{
		g.GET("/search", s.limit(ratelimit.ClassSearch), h.search)
		g.POST("/bulk", s.limit(ratelimit.ClassBulk), h.bulk)
		g.GET("/:slug", s.limit(ratelimit.ClassShow), h.show)
		g.GET("/:slug/report", s.limit(ratelimit.ClassReport), h.report)
	}
}

// show handles GET /<collection>/:slug.
//
// Inputs (query):
//   - slug: A selection from a previous 300 answer.
//   - locale: Preferred description locale; unsupported values fall back to
//     the default.
//   - description_id: Pins one description by id.
//
// Outputs:
//   - 200 entity, 202 queued job, 300 options, or an error body.
func (h *collection) show(c *gin.Context) {
	ctx := c.Request.Context()
	raw := c.Param("slug")
	requested, err := slug.Validate(ctx, raw)
	if err != nil {
		invalidSlug(c, raw, err)
		return
	}
	descriptionID := c.Query("description_id")
	if descriptionID != "" {
		if _, err := uuid.Parse(descriptionID); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "Invalid description_id parameter",
				"type":    model.ErrorValidation,
				"message": "description_id must be a UUID",
			})
			return
		}
	}
	locale := model.LocaleOrDefault(c.Query("locale"))

	var res *workflow.Resolution
	if rawSelected, ok := c.GetQuery("slug"); ok {
		selected, err := slug.Validate(ctx, rawSelected)
		if err != nil {
			invalidSlug(c, rawSelected, err)
			return
		}
		res, err = h.deps.Resolver.Select(ctx, h.entityType, requested, selected, locale)
		if err != nil {
			h.resolutionError(c, selected, res, err)
			return
		}
	} else {
		res, err = h.deps.Resolver.Resolve(ctx, h.entityType, requested, locale, descriptionID)
		if err != nil {
			h.resolutionError(c, requested, res, err)
			return
		}
	}

	switch res.Outcome {
	case workflow.OutcomeFound:
		meta := h.deps.Disambiguator.LocalMeta(h.entityType, requested, res.Lookup.Matches)
		c.JSON(http.StatusOK, newEntityResponse(&res.Lookup.View, meta))
	case workflow.OutcomeQueued:
		c.JSON(http.StatusAccepted, queued(res.Job, workflow.QueuedMessage(h.entityType, res.Reused), res.Confidence))
	case workflow.OutcomeAmbiguous:
		plural := h.entityType.Plural()
		c.JSON(http.StatusMultipleChoices, gin.H{
			"error":   "Multiple " + plural + " found",
			"type":    model.ErrorAmbiguousMatch,
			"message": "Multiple " + plural + " match '" + requested + "'. Please select one:",
			"slug":    requested,
			"options": res.Options,
			"count":   len(res.Options),
			"hint":    `Use slug with year (e.g., "bad-boys-1995") or select from options`,
		})
	}
}

func (h *collection) resolutionError(c *gin.Context, requested string, res *workflow.Resolution, err error) {
	switch {
	case errors.Is(err, workflow.ErrDispatch) && res != nil:
		dispatchFailed(c, res.Job)
	case errors.Is(err, model.ErrValidation):
		lowConfidence(c, h.entityType, requested, h.deps.Confidence.Score(requested, h.entityType), err)
	default:
		respondError(c, h.entityType, err)
	}
}

// search handles GET /<collection>/search?q=&limit=.
func (h *collection) search(c *gin.Context) {
	query := c.Query("q")
	limit, _ := strconv.Atoi(c.Query("limit"))
	results, err := h.deps.Search.Search(c.Request.Context(), h.entityType, query, limit)
	if err != nil {
		respondError(c, h.entityType, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": query, "count": len(results), "results": results})
}

// bulk handles POST /<collection>/bulk. Slugs that fail validation are
// reported per item; they do not fail the batch.
func (h *collection) bulk(c *gin.Context) {
	ctx := c.Request.Context()
	var req bulkRequest
	if !decodeJSON(c, &req) {
		return
	}
	locale := model.LocaleOrDefault(req.Locale)

	out := make([]bulkEntry, len(req.Slugs))
	valid := make([]string, 0, len(req.Slugs))
	index := make([]int, 0, len(req.Slugs))
	for i, raw := range req.Slugs {
		out[i].Slug = raw
		s, err := slug.Validate(ctx, raw)
		if err != nil {
			out[i].Error = err.Error()
			continue
		}
		out[i].Slug = s
		valid = append(valid, s)
		index = append(index, i)
	}

	items, err := h.deps.Retrieval.Bulk(ctx, h.entityType, valid, locale)
	if err != nil {
		respondError(c, h.entityType, err)
		return
	}
	found := 0
	for j, item := range items {
		entry := &out[index[j]]
		entry.Found = item.Found
		if item.Found {
			found++
			data := newEntityResponse(item.View, nil)
			entry.Data = &data
		}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "found": found, "results": out})
}

// report handles GET /<collection>/:slug/report.
func (h *collection) report(c *gin.Context) {
	ctx := c.Request.Context()
	raw := c.Param("slug")
	requested, err := slug.Validate(ctx, raw)
	if err != nil {
		invalidSlug(c, raw, err)
		return
	}
	coverage, err := h.deps.Retrieval.Report(ctx, h.entityType, requested)
	if err != nil {
		respondError(c, h.entityType, err)
		return
	}
	c.JSON(http.StatusOK, coverage)
}

// decodeJSON reads and validates a JSON body, answering 400 or 422 itself
// when it returns false.
func decodeJSON(c *gin.Context, dst any) bool {
	body, err := c.GetRawData()
	if err == nil {
		err = json.Unmarshal(body, dst)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"type":    model.ErrorValidation,
			"message": "The request body must be a JSON object",
		})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		fields := map[string]string{}
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				fields[fe.Field()] = fieldMessage(fe)
			}
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Validation failed",
			"type":    model.ErrorValidation,
			"message": "The request body has invalid fields",
			"fields":  fields,
		})
		return false
	}
	return true
}
