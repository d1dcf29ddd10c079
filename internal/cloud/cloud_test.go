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

package cloud_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/jaycherian/gcp-go-media-metadata/internal/cloud"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/ratelimit"
)

type scriptedModel struct {
	calls  atomic.Int32
	failN  int32
	answer string
}

func (m *scriptedModel) GenerateContent(_ context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	n := m.calls.Add(1)
	if n <= m.failN {
		return nil, errors.New("resource exhausted")
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: m.answer}}}}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     12,
			CandidatesTokenCount: 34,
		},
	}, nil
}

func fastRetries(t *testing.T) {
	old := cloud.RetryBackoff
	cloud.RetryBackoff = time.Millisecond
	t.Cleanup(func() { cloud.RetryBackoff = old })
}

func TestGenerateRetriesThenSucceeds(t *testing.T) {
	fastRetries(t)
	handle := &scriptedModel{failN: 2, answer: "```json\n{\"title\":\"Heat\"}\n```"}
	model := cloud.NewQuotaAwareModel(&genai.GenerateContentConfig{}, "gemini-test", handle, 100)

	out, err := cloud.GenerateMultiModalResponse(context.Background(), nil, nil, nil, model, cloud.NewTextPart("prompt"))
	require.NoError(t, err)
	assert.Equal(t, `{"title":"Heat"}`, out)
	assert.Equal(t, int32(3), handle.calls.Load())
}

func TestGenerateGivesUpAfterMaxRetries(t *testing.T) {
	fastRetries(t)
	handle := &scriptedModel{failN: 100}
	model := cloud.NewQuotaAwareModel(&genai.GenerateContentConfig{}, "gemini-test", handle, 100)

	_, err := cloud.GenerateMultiModalResponse(context.Background(), nil, nil, nil, model, cloud.NewTextPart("prompt"))
	assert.EqualError(t, err, "resource exhausted")
	assert.Equal(t, int32(cloud.MaxRetries+1), handle.calls.Load())
}

func TestGenerateStopsWhenContextEnds(t *testing.T) {
	old := cloud.RetryBackoff
	cloud.RetryBackoff = time.Hour
	t.Cleanup(func() { cloud.RetryBackoff = old })

	handle := &scriptedModel{failN: 100}
	model := cloud.NewQuotaAwareModel(&genai.GenerateContentConfig{}, "gemini-test", handle, 100)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cloud.GenerateMultiModalResponse(ctx, nil, nil, nil, model, cloud.NewTextPart("prompt"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), handle.calls.Load())
}

func TestStripJSONFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cloud.StripJSONFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cloud.StripJSONFence(" {\"a\":1} "))
}

func TestLoadConfigLayersRuntimeOverBase(t *testing.T) {
	dir := t.TempDir()
	base := `
[application]
name = "media-metadata"
thread_pool_size = 8

[jobs]
ttl_seconds = 600

[rate_limits.classes.search]
default = 50
min = 10

[plans.starter]
monthly_limit = 500
rate_limit_per_minute = 20
features = ["read"]
`
	override := `
[application]
thread_pool_size = 2

[features]
tmdb_verification = false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.toml"), []byte(base), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.unit.toml"), []byte(override), 0o600))
	t.Setenv(cloud.EnvConfigFilePrefix, dir)
	t.Setenv(cloud.EnvConfigRuntime, "unit")

	config := cloud.NewConfig()
	require.NoError(t, cloud.LoadConfig(config))

	assert.Equal(t, "media-metadata", config.Application.Name)
	assert.Equal(t, 2, config.Application.ThreadPoolSize)
	assert.Equal(t, 600, config.Jobs.TTLSeconds)
	assert.Equal(t, 120, config.Jobs.WorkerTimeoutSeconds)
	assert.False(t, config.Features.TMDbVerification)
	assert.True(t, config.Features.HallucinationGuard)
	assert.Equal(t, ratelimit.Policy{Default: 50, Min: 10}, config.RateLimits.Policies[ratelimit.ClassSearch])
	assert.Equal(t, ratelimit.Policy{Default: 10, Min: 2}, config.RateLimits.Policies[ratelimit.ClassGenerate])
	assert.Equal(t, 500, config.Plans["starter"].MonthlyLimit)
	assert.Contains(t, config.Plans, "pro")
}

func TestLoadConfigReportsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.toml"), []byte("[application\nname="), 0o600))
	t.Setenv(cloud.EnvConfigFilePrefix, dir)
	t.Setenv(cloud.EnvConfigRuntime, "unit")

	err := cloud.LoadConfig(cloud.NewConfig())
	assert.ErrorContains(t, err, ".env.toml")
}

func TestApplyEnvironmentOverridesSecrets(t *testing.T) {
	t.Setenv(cloud.EnvTMDbAPIKey, "tmdb-secret")
	t.Setenv(cloud.EnvOpenAIAPIKey, "")
	t.Setenv(cloud.EnvRedisPassword, "redis-secret")

	config := cloud.NewConfig()
	config.OpenAI.APIKey = "from-file"
	cloud.ApplyEnvironment(config)

	assert.Equal(t, "tmdb-secret", config.Verification.TMDb.APIKey)
	assert.Equal(t, "from-file", config.OpenAI.APIKey)
	assert.Equal(t, "redis-secret", config.Redis.Password)
}

func TestObjectNameJoinsPrefix(t *testing.T) {
	assert.Equal(t, "ai/movie/x.json", cloud.NewGCSObjectWriter(nil, "bucket", "/ai/").ObjectName("movie/x.json"))
	assert.Equal(t, "movie/x.json", cloud.NewGCSObjectWriter(nil, "bucket", "").ObjectName("movie/x.json"))
}
