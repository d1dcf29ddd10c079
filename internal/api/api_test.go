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

package api_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-media-metadata/internal/api"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/confidence"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/disambiguation"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/jobs"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/ratelimit"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/services"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/verification"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/workflow"
	"github.com/jaycherian/gcp-go-media-metadata/internal/metrics"
)

const (
	freeKey       = "free-test-key"
	proKey        = "pro-test-key"
	enterpriseKey = "enterprise-test-key"
)

var allOn = model.Features{
	AIDescriptionGeneration: true,
	AIBioGeneration:         true,
	HallucinationGuard:      true,
	TMDbVerification:        true,
}

type captureDispatcher struct {
	mu    sync.Mutex
	err   error
	tasks []model.GenerationTask
}

func (d *captureDispatcher) Dispatch(_ context.Context, task model.GenerationTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

func (d *captureDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

type harness struct {
	router     *gin.Engine
	store      *jobs.MemoryStore
	dispatcher *captureDispatcher
	metrics    *metrics.Metrics
}

type settings struct {
	features model.Features
	classes  map[ratelimit.Class]ratelimit.Policy
}

func newHarness(t *testing.T, opts ...func(*settings)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := settings{features: allOn}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()
	repo := services.NewMemoryRepository()
	_, err := services.Seed(ctx, repo, services.SeedEntities())
	require.NoError(t, err)

	h := &harness{
		store:      jobs.NewMemoryStore(time.Minute),
		dispatcher: &captureDispatcher{},
		metrics:    metrics.New(),
	}
	scorer := confidence.New(confidence.DefaultThresholds())
	retrieval := services.NewRetrievalService(repo)
	disambiguator := disambiguation.New("http://localhost:8080")
	orchestrator := workflow.NewOrchestrator(h.store, h.dispatcher, cfg.features, h.metrics)
	resolver := workflow.NewResolver(retrieval, verification.NewFake(verification.DefaultFixtures()),
		disambiguator, scorer, orchestrator, cfg.features, 0)

	limiter, err := ratelimit.NewAdaptiveLimiter(ratelimit.Config{WindowSeconds: 60, Policies: cfg.classes},
		ratelimit.NewMemoryWindow(), ratelimit.StaticLoad(0))
	require.NoError(t, err)
	quota, err := ratelimit.NewPlanQuota(nil, []ratelimit.APIKey{
		{Hash: ratelimit.HashAPIKey(freeKey), Plan: "free"},
		{Hash: ratelimit.HashAPIKey(proKey), Plan: "pro"},
		{Hash: ratelimit.HashAPIKey(enterpriseKey), Plan: "enterprise"},
	}, ratelimit.NewMemoryWindow(), ratelimit.NewMemoryUsage())
	require.NoError(t, err)

	h.router = api.New(api.Dependencies{
		ServiceName:        "media-metadata-test",
		Features:           cfg.features,
		Resolver:           resolver,
		Orchestrator:       orchestrator,
		Retrieval:          retrieval,
		Search:             services.NewSearchService(repo),
		Disambiguator:      disambiguator,
		Confidence:         scorer,
		Store:              h.store,
		Limiter:            limiter,
		Quota:              quota,
		Metrics:            h.metrics,
		PollLimitPerMinute: 1000,
		Health: []api.HealthCheck{
			{Name: "job_store", Critical: true, Check: func(ctx context.Context) (string, error) { return "memory", h.store.Ping(ctx) }},
			{Name: "verifier", Check: func(context.Context) (string, error) { return "fake", nil }},
		},
	}).Router()
	return h
}

func (h *harness) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestShowLocalEntity(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/movies/inception-2010", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Inception", body["title"])
	assert.Equal(t, "inception-2010", body["slug"])
	assert.EqualValues(t, 1, body["descriptions_count"])
	description := body["description"].(map[string]any)
	assert.Equal(t, "en-US", description["locale"])
	assert.NotContains(t, body, "_meta")
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Zero(t, h.dispatcher.count())
}

func TestShowYearlessTitleAddsMeta(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/movies/dune", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "dune-2021", body["slug"])
	meta := body["_meta"].(map[string]any)
	assert.Equal(t, true, meta["ambiguous"])
	assert.Len(t, meta["alternatives"], 2)
}

func TestShowRejectsBadInput(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/movies/change-role", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Invalid slug format", body["error"])
	assert.Equal(t, string(model.ErrorPromptInjection), body["type"])

	w = h.do(http.MethodGet, "/api/v1/movies/inception-2010?description_id=not-a-uuid", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "Invalid description_id parameter", decode(t, w)["error"])

	w = h.do(http.MethodGet, "/api/v1/movies/inception-2010?description_id=0190a5b4-7c1e-7000-8000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Description not found", decode(t, w)["error"])
}

func TestShowAmbiguousThenSelect(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/movies/bad-boys", nil)
	require.Equal(t, http.StatusMultipleChoices, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, string(model.ErrorAmbiguousMatch), body["type"])
	assert.Equal(t, "Multiple movies found", body["error"])
	assert.Equal(t, "Multiple movies match 'bad-boys'. Please select one:", body["message"])
	assert.Equal(t, `Use slug with year (e.g., "bad-boys-1995") or select from options`, body["hint"])
	assert.EqualValues(t, 2, body["count"])
	options := body["options"].([]any)
	second := options[1].(map[string]any)
	assert.Equal(t, "bad-boys-ii-2003", second["slug"])
	assert.Equal(t, "http://localhost:8080/api/v1/movies/bad-boys?slug=bad-boys-ii-2003", second["select_url"])
	assert.Zero(t, h.dispatcher.count())

	w = h.do(http.MethodGet, "/api/v1/movies/bad-boys?slug=bad-boys-ii-2003", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, "bad-boys-ii-2003", body["slug"])
	assert.Equal(t, string(model.JobPending), body["status"])
	assert.Equal(t, "Generation queued for movie by slug", body["message"])
	jobID := body["job_id"].(string)
	require.NotEmpty(t, jobID)

	w = h.do(http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	job := decode(t, w)
	assert.Equal(t, string(model.JobPending), job["status"])
	assert.Equal(t, "bad-boys", job["requested_slug"])

	w = h.do(http.MethodGet, "/api/v1/movies/bad-boys?slug=bad-boys-1990", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(model.ErrorSelectionNotFound), decode(t, w)["type"])
}

func TestShowNotFoundAndLowConfidence(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/movies/quiet-harbor-2001", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Movie not found", decode(t, w)["error"])

	w = h.do(http.MethodGet, "/api/v1/movies/blade-runner-1990", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No movie found matching 'blade-runner-1990'. Found 'Blade Runner' (1982) but requested year was 1990.", decode(t, w)["message"])

	w = h.do(http.MethodGet, "/api/v1/movies/test-movie-123", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Low confidence slug", body["error"])
	assert.Equal(t, string(model.ConfidenceVeryLow), body["confidence_level"])
}

func TestJobEndpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, _, err := h.store.Create(ctx, model.GenerationRequest{EntityType: model.EntityMovie, Slug: "quiet-harbor-2001"})
	require.NoError(t, err)
	jobErr := jobs.ErrorFormatter{}.Format(model.ErrNotFound, model.EntityMovie)
	require.NoError(t, h.store.MarkFailed(ctx, job.ID, jobErr))

	w := h.do(http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, string(model.JobFailed), body["status"])
	failure := body["error"].(map[string]any)
	assert.Equal(t, string(model.ErrorNotFound), failure["type"])
	assert.Equal(t, jobErr.Message, failure["message"])

	w = h.do(http.MethodGet, "/api/v1/jobs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	body = decode(t, w)
	assert.Equal(t, "does-not-exist", body["job_id"])
	assert.Equal(t, string(model.JobUnknown), body["status"])
}

func TestGenerate(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/v1/generate", map[string]any{"entity_type": "movie", "slug": "the-matrix-1999", "locale": "pl-PL"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Generation queued for movie by slug", body["message"])
	assert.Equal(t, "pl-PL", body["locale"])
	assert.Equal(t, string(model.ConfidenceHigh), body["confidence_level"])
	first := body["job_id"]

	w = h.do(http.MethodPost, "/api/v1/generate", map[string]any{"entity_type": "MOVIE", "slug": "the-matrix-1999"})
	require.Equal(t, http.StatusAccepted, w.Code)
	body = decode(t, w)
	assert.Equal(t, first, body["job_id"])
	assert.Equal(t, "Generation already queued for movie slug", body["message"])
	assert.Equal(t, 1, h.dispatcher.count())

	w = h.do(http.MethodPost, "/api/v1/generate", map[string]any{"entity_type": "movie", "entity_id": "inception-2010", "context_tag": "critical"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, "Generation queued for existing movie slug", body["message"])
	assert.Equal(t, string(model.ContextCritical), body["context_tag"])
}

func TestGenerateRejections(t *testing.T) {
	h := newHarness(t, func(s *settings) { s.features.AIBioGeneration = false })

	w := h.do(http.MethodPost, "/api/v1/generate", map[string]any{"entity_type": "song", "slug": "the-matrix-1999"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid entity type", decode(t, w)["error"])

	w = h.do(http.MethodPost, "/api/v1/generate", map[string]any{"entity_type": "movie"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	fields := decode(t, w)["fields"].(map[string]any)
	assert.Contains(t, fields, "slug")

	w = h.do(http.MethodPost, "/api/v1/generate", map[string]any{"entity_type": "person", "slug": "keanu-reeves"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Feature not available", decode(t, w)["error"])

	w = h.do(http.MethodPost, "/api/v1/generate", map[string]any{"entity_type": "movie", "slug": "change-role"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid slug format", decode(t, w)["error"])

	w = h.do(http.MethodPost, "/api/v1/generate", map[string]any{"entity_type": "movie", "slug": "test-movie-123"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "Low confidence slug", decode(t, w)["error"])

	w = h.do(http.MethodPost, "/api/v1/generate", map[string]any{"entity_type": "movie", "slug": "the-matrix-1999", "locale": "xx-YY"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = h.do(http.MethodPost, "/api/v1/generate", "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, h.dispatcher.count())
}

func TestGenerateDispatchFailure(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.err = errors.New("queue is full")

	w := h.do(http.MethodPost, "/api/v1/generate", map[string]any{"entity_type": "movie", "slug": "the-matrix-1999"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	body := decode(t, w)
	jobID := body["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, string(model.JobFailed), body["status"])

	job, ok, err := h.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.JobFailed, job.Status)
}

func TestSearchBulkAndReport(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/movies/search?q=dune", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])

	w = h.do(http.MethodGet, "/api/v1/movies/search?q=", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = h.do(http.MethodPost, "/api/v1/movies/bulk", map[string]any{"slugs": []string{"inception-2010", "quiet-harbor-2001", "change-role"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, 1, body["found"])
	results := body["results"].([]any)
	require.Len(t, results, 3)
	assert.Equal(t, true, results[0].(map[string]any)["found"])
	assert.Equal(t, false, results[1].(map[string]any)["found"])
	assert.NotEmpty(t, results[2].(map[string]any)["error"])

	slugs := make([]string, 51)
	for i := range slugs {
		slugs[i] = "inception-2010"
	}
	w = h.do(http.MethodPost, "/api/v1/movies/bulk", map[string]any{"slugs": slugs})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = h.do(http.MethodGet, "/api/v1/movies/inception-2010/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode(t, w)
	assert.EqualValues(t, 1, report["descriptions_count"])
	assert.NotEmpty(t, report["missing_locales"])
}

func TestConcurrentSearchHitsCeiling(t *testing.T) {
	h := newHarness(t, func(s *settings) {
		s.classes = map[ratelimit.Class]ratelimit.Policy{ratelimit.ClassSearch: {Default: 5, Min: 5}}
	})

	const n = 10
	codes := make([]int, n)
	bodies := make([]*httptest.ResponseRecorder, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := h.do(http.MethodGet, "/api/v1/movies/search?q=dune", nil)
			codes[i], bodies[i] = w.Code, w
		}()
	}
	wg.Wait()

	ok, limited := 0, 0
	for i, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			limited++
			w := bodies[i]
			body := decode(t, w)
			assert.Equal(t, "Too many requests", body["error"])
			assert.Equal(t, string(model.ErrorRateLimited), body["type"])
			assert.Greater(t, body["retry_after"].(float64), 0.0)
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
			assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
			assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		}
	}
	assert.Equal(t, 5, ok)
	assert.Equal(t, 5, limited)

	// Other classes keep their own budget.
	w := h.do(http.MethodGet, "/api/v1/movies/inception-2010", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPlanQuota(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/movies/inception-2010", nil, ratelimit.APIKeyHeader, freeKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Monthly-Limit"))
	assert.Equal(t, "99", w.Header().Get("X-RateLimit-Monthly-Remaining"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Monthly-Used"))
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Per-Minute-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Per-Minute-Remaining"))

	w = h.do(http.MethodGet, "/api/v1/movies/inception-2010", nil, ratelimit.APIKeyHeader, enterpriseKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unlimited", w.Header().Get("X-RateLimit-Monthly-Limit"))
	assert.Equal(t, "unlimited", w.Header().Get("X-RateLimit-Monthly-Remaining"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Monthly-Used"))

	w = h.do(http.MethodGet, "/api/v1/movies/inception-2010", nil, ratelimit.APIKeyHeader, "unknown-key")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid API key", decode(t, w)["error"])

	w = h.do(http.MethodPost, "/api/v1/generate", map[string]any{"entity_type": "movie", "slug": "the-matrix-1999"}, ratelimit.APIKeyHeader, freeKey)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodPost, "/api/v1/generate", map[string]any{"entity_type": "movie", "slug": "the-matrix-1999"}, ratelimit.APIKeyHeader, proKey)
	assert.Equal(t, http.StatusAccepted, w.Code)

	// The free plan allows ten requests a minute; two were spent above.
	for range 8 {
		w = h.do(http.MethodGet, "/api/v1/movies/inception-2010", nil, ratelimit.APIKeyHeader, freeKey)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w = h.do(http.MethodGet, "/api/v1/movies/inception-2010", nil, ratelimit.APIKeyHeader, freeKey)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Rate limit exceeded. Please try again in a minute.", body["error"])
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Per-Minute-Remaining"))
	// The refused request is not counted against the month.
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Monthly-Used"))
	assert.Equal(t, "90", w.Header().Get("X-RateLimit-Monthly-Remaining"))
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "memory", checks["job_store"].(map[string]any)["detail"])

	h.do(http.MethodGet, "/api/v1/movies/inception-2010", nil)
	w = h.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `route="/api/v1/movies/:slug"`)

	w = h.do(http.MethodGet, "/api/v1/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
