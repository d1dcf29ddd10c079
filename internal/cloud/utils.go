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

// Package cloud provides configuration loading and helpers for calling
// Gemini. This file contains the hierarchical TOML loader and the retrying
// text generation helper.
//
// Configuration is read from two files in the directory named by
// GCP_CONFIG_PREFIX: ".env.toml" holds the shared settings and
// ".env.<GCP_RUNTIME>.toml" overrides them per environment ("test" when
// GCP_RUNTIME is unset). Secrets never live in the files; ApplyEnvironment
// copies them from environment variables.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"
)

const (
	ConfigFileBaseName  = ".env"
	ConfigFileExtension = ".toml"
	ConfigSeparator     = "."
	EnvConfigFilePrefix = "GCP_CONFIG_PREFIX"
	EnvConfigRuntime    = "GCP_RUNTIME"
	MaxRetries          = 3

	EnvTMDbAPIKey    = "TMDB_API_KEY"
	EnvOpenAIAPIKey  = "OPENAI_API_KEY"
	EnvRedisPassword = "REDIS_PASSWORD"
)

// RetryBackoff is the pause before the first retry of a failed generation;
// each further retry waits one more multiple of it.
var RetryBackoff = 2 * time.Second

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

// ConfigFiles returns the base and runtime configuration file names derived
// from the environment.
func ConfigFiles() (base string, runtime string) {
	prefix := os.Getenv(EnvConfigFilePrefix)
	if len(prefix) > 0 && !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix = prefix + string(os.PathSeparator)
	}
	env := os.Getenv(EnvConfigRuntime)
	if env == "" {
		env = "test"
	}
	base = prefix + ConfigFileBaseName + ConfigFileExtension
	runtime = prefix + ConfigFileBaseName + ConfigSeparator + env + ConfigFileExtension
	return base, runtime
}

// LoadConfig decodes the base file and then the runtime file into
// baseConfig. Missing files are skipped; a file that fails to decode is an
// error.
//
// Inputs:
//   - baseConfig: A pointer to the struct to fill, usually from NewConfig.
//
// Outputs:
//   - error: The first decode failure, naming the file.
func LoadConfig(baseConfig any) error {
	base, runtime := ConfigFiles()
	for _, name := range []string{base, runtime} {
		if !fileExists(name) {
			slog.Debug("configuration file not found", "file", name)
			continue
		}
		if _, err := toml.DecodeFile(name, baseConfig); err != nil {
			return fmt.Errorf("failed to decode configuration file %s: %w", name, err)
		}
		slog.Debug("loaded configuration file", "file", name)
	}
	return nil
}

// ApplyEnvironment overrides secrets with the values of TMDB_API_KEY,
// OPENAI_API_KEY and REDIS_PASSWORD when they are set.
func ApplyEnvironment(config *Config) {
	if v := os.Getenv(EnvTMDbAPIKey); v != "" {
		config.Verification.TMDb.APIKey = v
	}
	if v := os.Getenv(EnvOpenAIAPIKey); v != "" {
		config.OpenAI.APIKey = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		config.Redis.Password = v
	}
}

// GenerateMultiModalResponse sends content to the model and returns the
// concatenated text of the response with any Markdown JSON fence removed.
// Failed calls are retried up to MaxRetries times with a linear backoff that
// stops early when ctx is done.
//
// Inputs:
//   - ctx: Bounds the whole call including retries.
//   - inputTokenCounter, outputTokenCounter, retryCounter: Optional usage
//     counters; nil counters are skipped.
//   - model: The rate limited model.
//   - content: The request contents.
//
// Outputs:
//   - string: The response text.
//   - error: The last error once retries are exhausted.
func GenerateMultiModalResponse(
	ctx context.Context,
	inputTokenCounter metric.Int64Counter,
	outputTokenCounter metric.Int64Counter,
	retryCounter metric.Int64Counter,
	model *QuotaAwareGenerativeAIModel,
	content []*genai.Content) (string, error) {

	var resp *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			if retryCounter != nil {
				retryCounter.Add(ctx, 1)
			}
			slog.WarnContext(ctx, "retrying generation", "model", model.ModelName, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("generation abandoned after %d attempts: %w", attempt, errors.Join(err, ctx.Err()))
			case <-time.After(time.Duration(attempt) * RetryBackoff):
			}
		}
		resp, err = model.GenerateContent(ctx, content)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", err
	}

	if resp.UsageMetadata != nil {
		if inputTokenCounter != nil {
			inputTokenCounter.Add(ctx, int64(resp.UsageMetadata.PromptTokenCount))
		}
		if outputTokenCounter != nil {
			outputTokenCounter.Add(ctx, int64(resp.UsageMetadata.CandidatesTokenCount))
		}
	}

	var value strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			value.WriteString(part.Text)
		}
	}
	return StripJSONFence(value.String()), nil
}

// StripJSONFence removes a surrounding ```json ... ``` block.
func StripJSONFence(in string) string {
	out := strings.TrimSpace(in)
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out)
}

// NewTextPart wraps a prompt as user content.
func NewTextPart(in string) []*genai.Content {
	return genai.Text(in)
}
