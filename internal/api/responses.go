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
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/services"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/workflow"
)

// queuedResponse is the 202 body of every request that started or joined a
// generation job.
type queuedResponse struct {
	JobID           string                `json:"job_id"`
	Status          model.JobStatus       `json:"status"`
	Message         string                `json:"message"`
	Slug            string                `json:"slug"`
	Locale          model.Locale          `json:"locale"`
	ContextTag      model.ContextTag      `json:"context_tag,omitempty"`
	Confidence      float64               `json:"confidence"`
	ConfidenceLevel model.ConfidenceLevel `json:"confidence_level"`
}

func queued(job model.Job, message string, c model.Confidence) queuedResponse {
	return queuedResponse{
		JobID:           job.ID,
		Status:          job.Status,
		Message:         message,
		Slug:            job.Slug,
		Locale:          job.Locale,
		ContextTag:      job.ContextTag,
		Confidence:      c.Score,
		ConfidenceLevel: c.Level,
	}
}

func retrySeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

// tooManyRequests aborts with a 429. Every 429 carries Retry-After and the
// same value in the body.
func tooManyRequests(c *gin.Context, title, message string, retry time.Duration) {
	secs := retrySeconds(retry)
	c.Header("Retry-After", strconv.Itoa(secs))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":       title,
		"type":        model.ErrorRateLimited,
		"message":     message,
		"retry_after": secs,
	})
}

func invalidSlug(c *gin.Context, raw string, err error) {
	message := err.Error()
	if errors.Is(err, model.ErrPromptInjection) {
		message = "Potential prompt injection detected"
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid slug format",
		"type":    model.Classify(err),
		"message": message,
		"slug":    raw,
	})
}

func lowConfidence(c *gin.Context, t model.EntityType, requested string, conf model.Confidence, err error) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"error":            "Low confidence slug",
		"type":             model.ErrorValidation,
		"message":          "The slug does not look like a real " + t.Label() + ": " + err.Error(),
		"slug":             requested,
		"confidence":       conf.Score,
		"confidence_level": conf.Level,
	})
}

// dispatchFailed answers a job that was created but never reached a worker.
func dispatchFailed(c *gin.Context, job model.Job) {
	body := gin.H{
		"error":   "Service unavailable",
		"type":    model.ErrorUnknown,
		"message": "Generation could not be queued. Please try again later.",
		"job_id":  job.ID,
		"status":  job.Status,
	}
	if job.Error != nil {
		body["type"] = job.Error.Type
	}
	c.JSON(http.StatusServiceUnavailable, body)
}

// respondError maps pipeline errors to their HTTP answer.
func respondError(c *gin.Context, t model.EntityType, err error) {
	var mismatch *workflow.YearMismatchError
	switch {
	case errors.As(err, &mismatch):
		c.JSON(http.StatusNotFound, gin.H{"error": t.Title() + " not found", "type": model.ErrorNotFound, "message": mismatch.Error()})
	case errors.Is(err, services.ErrDescriptionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Description not found",
			"type":    model.ErrorNotFound,
			"message": "The requested description does not exist for this " + t.Label(),
		})
	case errors.Is(err, model.ErrSelectionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Selected " + t.Label() + " not found in search results",
			"type":    model.ErrorSelectionNotFound,
			"message": "The selected slug is not one of the options for this title",
		})
	case errors.Is(err, model.ErrProviderUnavailable):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   t.Title() + " not found",
			"type":    model.ErrorProviderUnavailable,
			"message": "The " + t.Label() + " could not be verified right now. Please try again later.",
		})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": t.Title() + " not found", "type": model.ErrorNotFound, "message": "The requested " + t.Label() + " was not found"})
	case errors.Is(err, model.ErrPromptInjection):
		invalidSlug(c, c.Param("slug"), err)
	case errors.Is(err, model.ErrFeatureDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "Feature not available", "type": model.ErrorFeatureDisabled, "message": err.Error()})
	case model.Classify(err) == model.ErrorValidation:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Validation failed", "type": model.ErrorValidation, "message": err.Error()})
	default:
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "type": model.ErrorUnknown})
	}
}
