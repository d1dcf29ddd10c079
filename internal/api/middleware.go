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
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/ratelimit"
)

const (
	requestIDHeader = "X-Request-Id"
	requestIDKey    = "request_id"
	planKey         = "plan"
	unlimited       = "unlimited"
)

// requestID propagates or assigns the X-Request-Id of every request.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			if v7, err := uuid.NewV7(); err == nil {
				id = v7.String()
			} else {
				id = uuid.NewString()
			}
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(c.Request.Context(), level, "request completed",
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			requestIDKey, c.GetString(requestIDKey))
	}
}

// trackLoad feeds request outcomes into the load monitor that scales the
// adaptive limits.
func (s *Server) trackLoad() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Load == nil {
			c.Next()
			return
		}
		done := s.deps.Load.Begin()
		c.Next()
		done(c.Writer.Status() >= http.StatusInternalServerError)
	}
}

// limit applies the adaptive per-class limit. A limiter backend failure lets
// the request through.
func (s *Server) limit(class ratelimit.Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Limiter == nil {
			c.Next()
			return
		}
		d, err := s.deps.Limiter.Allow(c.Request.Context(), class, ratelimit.ClientKey(c.Request))
		if err != nil {
			slog.WarnContext(c.Request.Context(), "rate limiter unavailable", "class", class, "error", err)
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			s.recorder.RateLimited(string(class))
			tooManyRequests(c, "Too many requests", "Rate limit exceeded. Please try again later.", d.RetryAfter)
			return
		}
		c.Next()
	}
}

// planQuota enforces subscription plans for requests carrying X-API-Key.
// Requests without a key are only subject to the adaptive limits.
func (s *Server) planQuota() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(ratelimit.APIKeyHeader)
		if s.deps.Quota == nil || key == "" {
			c.Next()
			return
		}
		u, err := s.deps.Quota.Check(c.Request.Context(), key)
		if !errors.Is(err, ratelimit.ErrInvalidAPIKey) {
			quotaHeaders(c, u)
		}
		switch {
		case err == nil:
			c.Set(planKey, u.Plan)
			c.Next()
		case errors.Is(err, ratelimit.ErrInvalidAPIKey):
			s.recorder.QuotaRejected("invalid_key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"type":    model.ErrorValidation,
				"message": "The API key is not recognised",
			})
		case errors.Is(err, ratelimit.ErrPerMinuteExceeded):
			s.recorder.QuotaRejected("per_minute")
			tooManyRequests(c, "Rate limit exceeded. Please try again in a minute.", "Per-minute limit of the "+u.Plan.Name+" plan reached", u.RetryAfter)
		case errors.Is(err, ratelimit.ErrMonthlyLimitExceeded):
			s.recorder.QuotaRejected("monthly")
			tooManyRequests(c, "Monthly request limit exceeded", "Monthly quota of the "+u.Plan.Name+" plan reached", untilMonthEnd(time.Now()))
		default:
			slog.WarnContext(c.Request.Context(), "plan quota unavailable", "error", err)
			c.Set(planKey, u.Plan)
			c.Next()
		}
	}
}

func quotaHeaders(c *gin.Context, u ratelimit.Usage) {
	if u.Plan.Unlimited() {
		c.Header("X-RateLimit-Monthly-Limit", unlimited)
		c.Header("X-RateLimit-Monthly-Remaining", unlimited)
	} else {
		c.Header("X-RateLimit-Monthly-Limit", strconv.Itoa(u.Plan.MonthlyLimit))
		c.Header("X-RateLimit-Monthly-Remaining", strconv.FormatInt(u.MonthlyRemaining(), 10))
	}
	c.Header("X-RateLimit-Monthly-Used", strconv.FormatInt(u.MonthlyUsed, 10))
	c.Header("X-RateLimit-Per-Minute-Limit", strconv.Itoa(u.Plan.PerMinute))
	c.Header("X-RateLimit-Per-Minute-Remaining", strconv.Itoa(u.PerMinuteRemaining))
}

func untilMonthEnd(now time.Time) time.Duration {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, 0).Sub(now)
}

// requireFeature rejects keyed requests whose plan lacks feature.
func (s *Server) requireFeature(feature string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(planKey)
		if !ok {
			c.Next()
			return
		}
		if plan := v.(ratelimit.Plan); !plan.Has(feature) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "Feature not available",
				"type":    model.ErrorFeatureDisabled,
				"message": "The " + plan.Name + " plan does not include " + feature,
			})
			return
		}
		c.Next()
	}
}

func planHas(c *gin.Context, feature string) bool {
	v, ok := c.Get(planKey)
	if !ok {
		return true
	}
	return v.(ratelimit.Plan).Has(feature)
}

// pollGuard is a fixed per-IP ceiling on job polling, independent of the
// adaptive classes.
func pollGuard(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			secs := 60
			if v, err := strconv.Atoi(w.Header().Get("Retry-After")); err == nil && v > 0 {
				secs = v
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			body, _ := json.Marshal(map[string]any{
				"error":       "Too many requests",
				"type":        model.ErrorRateLimited,
				"message":     "Job polling limit exceeded. Please slow down.",
				"retry_after": secs,
			})
			_, _ = w.Write(body)
		}))
	return func(c *gin.Context) {
		passed := false
		limiter(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)
		if !passed {
			c.Abort()
		}
	}
}
