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

// Package cloud holds the service's configuration model, the hierarchical
// TOML loader and the clients for Google Cloud and Redis. This file defines
// the configuration structs; every section maps to one TOML table.
package cloud

import (
	"google.golang.org/genai"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/aioutput"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/confidence"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/ratelimit"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/verification"
)

// DefaultSafetySettings relaxes Gemini's content filters. Film synopses
// routinely describe violence and crime, and the default thresholds block
// ordinary plot summaries.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockOnlyHigh,
	},
}

// Queue and store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPubSub   = "pubsub"
	DriverBigQuery = "bigquery"
)

// Application holds process-wide settings.
type Application struct {
	Name            string `toml:"name"`
	GoogleProjectId string `toml:"google_project_id"`
	GoogleLocation  string `toml:"location"`
	// ThreadPoolSize is the number of generation workers.
	ThreadPoolSize int    `toml:"thread_pool_size"`
	HTTPPort       string `toml:"http_port"`
	// BaseURL prefixes the links in disambiguation options.
	BaseURL                string `toml:"base_url"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// Telemetry selects exporters and the log sink.
type Telemetry struct {
	// Exporter is "gcp" or "none".
	Exporter string `toml:"exporter"`
	LogLevel string `toml:"log_level"`
	// LogFile, when set, receives the JSON log in addition to stdout.
	LogFile string `toml:"log_file"`
}

// Redis configures the shared Redis connection. An empty Addr means no Redis.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Jobs configures the job state store and the queue feeding the workers.
type Jobs struct {
	// Store is "memory" or "redis".
	Store string `toml:"store"`
	// QueueDriver is "memory" (in-process channel) or "pubsub".
	QueueDriver          string `toml:"queue_driver"`
	TTLSeconds           int    `toml:"ttl_seconds"`
	WorkerTimeoutSeconds int    `toml:"worker_timeout_seconds"`
	QueueSize            int    `toml:"queue_size"`
	PollLimitPerMinute   int    `toml:"poll_limit_per_minute"`
	// Topic is the Pub/Sub topic generation tasks are published to.
	Topic string `toml:"topic"`
	// Subscription names the TopicSubscriptions entry the workers listen on.
	Subscription string `toml:"subscription"`
}

// Verification selects the external metadata provider.
type Verification struct {
	// Provider is "tmdb" or "fake".
	Provider    string                  `toml:"provider"`
	SearchLimit int                     `toml:"search_limit"`
	TMDb        verification.TMDbConfig `toml:"tmdb"`
}

// AI selects the generation provider.
type AI struct {
	// Provider is "gemini", "openai" or "mock".
	Provider string `toml:"provider"`
	// AgentModel names the AgentModels entry used by the gemini provider.
	AgentModel string `toml:"agent_model"`
}

// VertexAiLLMModel configures one Gemini model on Vertex AI.
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`
	SystemInstructions string  `toml:"system_instructions"`
	Temperature        float32 `toml:"temperature"`
	TopP               float32 `toml:"top_p"`
	TopK               float32 `toml:"top_k"`
	MaxTokens          int32   `toml:"max_tokens"`
	OutputFormat       string  `toml:"output_format"`
	EnableGoogle       bool    `toml:"enable_google"`
	// RateLimit is the number of requests per second.
	RateLimit int `toml:"rate_limit"`
}

// OpenAIModel configures the OpenAI chat completions provider.
type OpenAIModel struct {
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	APIKey         string  `toml:"api_key"`
}

// TopicSubscription describes one Pub/Sub subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`
	DeadLetterTopic  string `toml:"dead_letter_topic"`
	TimeoutInSeconds int    `toml:"timeout_in_seconds"`
}

// Storage configures the raw AI response archive. An empty bucket disables it.
type Storage struct {
	ArchiveBucket string `toml:"archive_bucket"`
	ArchivePrefix string `toml:"archive_prefix"`
}

// BigQueryDataSource names the entity repository tables.
type BigQueryDataSource struct {
	DatasetName      string `toml:"dataset"`
	EntityTable      string `toml:"entity_table"`
	DescriptionTable string `toml:"description_table"`
}

// Repository selects the entity repository.
type Repository struct {
	// Driver is "memory" or "bigquery".
	Driver string `toml:"driver"`
	// Seed loads a few sample entities into the memory repository.
	Seed bool `toml:"seed"`
}

// Config is the root of the TOML configuration.
type Config struct {
	Application        Application                  `toml:"application"`
	Telemetry          Telemetry                    `toml:"telemetry"`
	Redis              Redis                        `toml:"redis"`
	Jobs               Jobs                         `toml:"jobs"`
	Features           model.Features               `toml:"features"`
	Confidence         confidence.Thresholds        `toml:"confidence"`
	AIOutput           aioutput.Policy              `toml:"ai_output"`
	RateLimits         ratelimit.Config             `toml:"rate_limits"`
	Load               ratelimit.LoadConfig         `toml:"load"`
	Plans              map[string]ratelimit.Plan    `toml:"plans"`
	APIKeys            []ratelimit.APIKey           `toml:"api_keys"`
	Verification       Verification                 `toml:"verification"`
	AI                 AI                           `toml:"ai"`
	AgentModels        map[string]VertexAiLLMModel  `toml:"agent_models"`
	OpenAI             OpenAIModel                  `toml:"openai"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"`
	BigQueryDataSource BigQueryDataSource           `toml:"big_query_data_source"`
	Storage            Storage                      `toml:"storage"`
	Repository         Repository                   `toml:"repository"`
}

// NewConfig returns a Config holding the built-in defaults. Loading TOML on
// top of it overrides only the keys present in the files.
func NewConfig() *Config {
	return &Config{
		Application: Application{
			Name:                   "media-metadata",
			ThreadPoolSize:         4,
			HTTPPort:               "8080",
			BaseURL:                "http://localhost:8080",
			ShutdownTimeoutSeconds: 15,
		},
		Telemetry: Telemetry{Exporter: "none", LogLevel: "info"},
		Jobs: Jobs{
			Store:                DriverMemory,
			QueueDriver:          DriverMemory,
			TTLSeconds:           900,
			WorkerTimeoutSeconds: 120,
			QueueSize:            100,
			PollLimitPerMinute:   120,
		},
		Features: model.Features{
			AIDescriptionGeneration: true,
			AIBioGeneration:         true,
			HallucinationGuard:      true,
			TMDbVerification:        true,
		},
		Confidence:         confidence.DefaultThresholds(),
		AIOutput:           aioutput.DefaultPolicy(),
		RateLimits:         ratelimit.Config{WindowSeconds: 60, Policies: ratelimit.DefaultPolicies()},
		Load:               ratelimit.DefaultLoadConfig(),
		Plans:              ratelimit.DefaultPlans(),
		Verification:       Verification{Provider: "fake", SearchLimit: verification.DefaultSearchLimit},
		AI:                 AI{Provider: "mock"},
		AgentModels:        make(map[string]VertexAiLLMModel),
		OpenAI:             OpenAIModel{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini", Temperature: 0.7, TimeoutSeconds: 60},
		TopicSubscriptions: make(map[string]TopicSubscription),
		Repository:         Repository{Driver: DriverMemory},
	}
}
