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

// Package api contains the HTTP surface of the metadata server: the entity
// collections (movies, people, tv-series, tv-shows), the generation and job
// polling endpoints, and the operational routes.
//
// Functions:
//   - New: Builds a Server from its collaborators.
//   - Server.Router: Returns the gin engine with every middleware and route
//     registered.
package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/confidence"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/disambiguation"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/jobs"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/ratelimit"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/services"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/workflow"
	"github.com/jaycherian/gcp-go-media-metadata/internal/metrics"
)

// Recorder counts requests the server turned away.
type Recorder interface {
	RateLimited(class string)
	QuotaRejected(reason string)
}

type nopRecorder struct{}

func (nopRecorder) RateLimited(string)   {}
func (nopRecorder) QuotaRejected(string) {}

// Dependencies are the collaborators of the HTTP layer. Limiter, Quota,
// Load and Metrics are optional.
type Dependencies struct {
	ServiceName   string
	Features      model.Features
	Resolver      *workflow.Resolver
	Orchestrator  *workflow.Orchestrator
	Retrieval     *services.RetrievalService
	Search        *services.SearchService
	Disambiguator *disambiguation.Disambiguator
	Confidence    *confidence.Validator
	Store         jobs.Store
	Limiter       *ratelimit.AdaptiveLimiter
	Quota         *ratelimit.PlanQuota
	Load          *ratelimit.LoadMonitor
	Metrics       *metrics.Metrics
	// PollLimitPerMinute caps job polling per client IP; zero disables it.
	PollLimitPerMinute int
	Health             []HealthCheck
}

// Server holds the HTTP handlers.
type Server struct {
	deps     Dependencies
	recorder Recorder
}

func New(deps Dependencies) *Server {
	if deps.ServiceName == "" {
		deps.ServiceName = "media-metadata"
	}
	if deps.Confidence == nil {
		deps.Confidence = confidence.New(confidence.DefaultThresholds())
	}
	s := &Server{deps: deps, recorder: nopRecorder{}}
	if deps.Metrics != nil {
		s.recorder = deps.Metrics
	}
	return s
}

// Router builds the gin engine.
//
// Routes:
//   - GET  /health, GET /metrics
//   - GET  /api/v1/<collection>/search?q=
//   - POST /api/v1/<collection>/bulk
//   - GET  /api/v1/<collection>/:slug
//   - GET  /api/v1/<collection>/:slug/report
//   - POST /api/v1/generate
//   - GET  /api/v1/jobs/:id
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.deps.ServiceName))
	r.Use(requestID(), accessLog())
	r.Use(cors.New(corsConfig()))
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
	r.GET("/health", s.health)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(s.trackLoad(), s.planQuota())
	{
		for _, t := range model.EntityTypes {
			s.collectionRouter(apiV1, t)
		}
		apiV1.POST("/generate", s.limit(ratelimit.ClassGenerate), s.requireFeature(ratelimit.FeatureGenerate), s.generate)
		apiV1.GET("/jobs/:id", pollGuard(s.deps.PollLimitPerMinute), s.job)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found", "type": model.ErrorNotFound, "message": "No route for " + c.Request.URL.Path})
	})
	return r
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowHeaders = append(cfg.AllowHeaders, ratelimit.APIKeyHeader, requestIDHeader)
	cfg.ExposeHeaders = []string{
		"Retry-After",
		"X-RateLimit-Limit",
		"X-RateLimit-Remaining",
		"X-RateLimit-Monthly-Limit",
		"X-RateLimit-Monthly-Remaining",
		"X-RateLimit-Monthly-Used",
		"X-RateLimit-Per-Minute-Limit",
		"X-RateLimit-Per-Minute-Remaining",
		requestIDHeader,
	}
	return cfg
}
