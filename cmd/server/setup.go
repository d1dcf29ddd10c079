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

// Package main contains the setup and initialization logic for the application's state.
// This file builds the StateManager that holds every shared dependency: the
// configuration, the Google Cloud and Redis clients, the job store, the
// generation pipeline and the services behind the HTTP handlers.
//
// Functions:
//   - SetupOS: Points the configuration loader at the configs directory and
//     the runtime environment.
//   - GetConfig: Loads the TOML configuration once and applies environment
//     overrides.
//   - InitState: Creates the clients, stores and services and starts the
//     generation workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jaycherian/gcp-go-media-metadata/internal/api"
	"github.com/jaycherian/gcp-go-media-metadata/internal/cloud"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/ai"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/aioutput"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/confidence"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/disambiguation"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/jobs"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/ratelimit"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/services"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/verification"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/workflow"
	"github.com/jaycherian/gcp-go-media-metadata/internal/metrics"
)

const (
	aiBreakerFailures = 5
	aiBreakerTimeout  = 30 * time.Second
	mockAIDelay       = 500 * time.Millisecond
)

// StateManager holds all the shared dependencies for the application.
type StateManager struct {
	config     *cloud.Config
	cloud      *cloud.ServiceClients
	store      jobs.Store
	dispatcher *workflow.ChannelDispatcher
	publisher  *cloud.PubSubPublisher
	workflow   *workflow.GenerationWorkflow
	load       *ratelimit.LoadMonitor
	server     *api.Server
}

// SetupOS sets the environment variables the configuration loader reads.
// GCP_RUNTIME defaults to "local" when it is not already set.
func SetupOS() error {
	if err := os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
		return err
	}
	if os.Getenv(cloud.EnvConfigRuntime) != "" {
		return nil
	}
	return os.Setenv(cloud.EnvConfigRuntime, "local")
}

// GetConfig loads .env.toml, then .env.<runtime>.toml, on top of the
// defaults, and finally applies the secret environment variables.
func GetConfig() (*cloud.Config, error) {
	if err := SetupOS(); err != nil {
		return nil, fmt.Errorf("failed to setup os for configuration: %w", err)
	}
	config := cloud.NewConfig()
	if err := cloud.LoadConfig(config); err != nil {
		return nil, err
	}
	cloud.ApplyEnvironment(config)
	return config, nil
}

// InitState creates every dependency of the server.
//
// Inputs:
//   - ctx: The root context. Background workers stop when it is cancelled.
//   - config: The loaded configuration.
//
// Outputs:
//   - *StateManager: The wired application.
//   - error: The first dependency that could not be created. Clients created
//     before the failure are closed.
//
// This function performs the following steps:
//  1. Creates the Google Cloud and Redis clients the configuration asks for.
//  2. Builds the repository (seeding it when configured), the job store, the
//     verification and AI providers.
//  3. Builds the generation workflow and the dispatcher feeding it.
//  4. Builds the rate limiters, metrics and the HTTP server.
func InitState(ctx context.Context, config *cloud.Config) (_ *StateManager, err error) {
	clients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return nil, err
	}
	state := &StateManager{config: config, cloud: clients}
	defer func() {
		if err != nil {
			clients.Close()
		}
	}()

	repo, err := newRepository(ctx, config, clients)
	if err != nil {
		return nil, err
	}
	if state.store, err = newJobStore(config, clients); err != nil {
		return nil, err
	}
	verifier, err := newVerifier(config)
	if err != nil {
		return nil, err
	}
	provider, err := newProvider(config, clients)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	scorer := confidence.New(config.Confidence)
	state.workflow = workflow.NewGenerationWorkflow(workflow.Dependencies{
		Features:        config.Features,
		Confidence:      scorer,
		Repository:      repo,
		Verifier:        verifier,
		Provider:        provider,
		OutputValidator: aioutput.NewValidator(config.AIOutput),
		Archive:         newArchive(config, clients),
		Store:           state.store,
		Timeout:         time.Duration(config.Jobs.WorkerTimeoutSeconds) * time.Second,
		Observer:        m,
	})

	state.load = ratelimit.NewLoadMonitor(config.Load)
	var dispatcher workflow.Dispatcher
	switch config.Jobs.QueueDriver {
	case cloud.DriverPubSub:
		if config.Jobs.Topic == "" {
			return nil, errors.New("jobs.topic is required with the pubsub queue driver")
		}
		state.publisher = cloud.NewPubSubPublisher(clients.PubsubClient, config.Jobs.Topic)
		dispatcher = workflow.NewPubSubDispatcher(state.publisher)
	case cloud.DriverMemory, "":
		state.dispatcher = workflow.NewChannelDispatcher(state.workflow.Run, config.Application.ThreadPoolSize, config.Jobs.QueueSize)
		state.dispatcher.Start(ctx)
		state.load.SetQueueGauge(state.dispatcher.Depth)
		m.RegisterQueue(state.dispatcher.Depth)
		dispatcher = state.dispatcher
	default:
		return nil, fmt.Errorf("unknown jobs.queue_driver %q", config.Jobs.QueueDriver)
	}
	m.RegisterLoad(state.load.Load)
	go state.load.Run(ctx)

	window, usage := ratelimit.WindowStore(ratelimit.NewMemoryWindow()), ratelimit.UsageCounter(ratelimit.NewMemoryUsage())
	if clients.Redis != nil {
		window, usage = ratelimit.NewRedisWindow(clients.Redis), ratelimit.NewRedisUsage(clients.Redis)
	}
	limiter, err := ratelimit.NewAdaptiveLimiter(config.RateLimits, window, state.load)
	if err != nil {
		return nil, err
	}
	quota, err := ratelimit.NewPlanQuota(config.Plans, config.APIKeys, window, usage)
	if err != nil {
		return nil, err
	}

	retrieval := services.NewRetrievalService(repo)
	disambiguator := disambiguation.New(config.Application.BaseURL)
	orchestrator := workflow.NewOrchestrator(state.store, dispatcher, config.Features, m)
	state.server = api.New(api.Dependencies{
		ServiceName:        config.Application.Name,
		Features:           config.Features,
		Resolver:           workflow.NewResolver(retrieval, verifier, disambiguator, scorer, orchestrator, config.Features, config.Verification.SearchLimit),
		Orchestrator:       orchestrator,
		Retrieval:          retrieval,
		Search:             services.NewSearchService(repo),
		Disambiguator:      disambiguator,
		Confidence:         scorer,
		Store:              state.store,
		Limiter:            limiter,
		Quota:              quota,
		Load:               state.load,
		Metrics:            m,
		PollLimitPerMinute: config.Jobs.PollLimitPerMinute,
		Health:             state.healthChecks(provider, verifier),
	})
	return state, nil
}

// Close stops the workers, then releases the clients.
func (s *StateManager) Close(ctx context.Context) {
	if s.dispatcher != nil {
		if err := s.dispatcher.Stop(ctx); err != nil {
			slog.Error("generation workers did not drain", "error", err)
		}
	}
	if s.publisher != nil {
		s.publisher.Stop()
	}
	s.cloud.Close()
}

func newRepository(ctx context.Context, config *cloud.Config, clients *cloud.ServiceClients) (services.Repository, error) {
	switch config.Repository.Driver {
	case cloud.DriverBigQuery:
		ds := config.BigQueryDataSource
		return services.NewBigQueryRepository(clients.BigQueryClient, ds.DatasetName, ds.EntityTable, ds.DescriptionTable), nil
	case cloud.DriverMemory, "":
		repo := services.NewMemoryRepository()
		if config.Repository.Seed {
			n, err := services.Seed(ctx, repo, services.SeedEntities())
			if err != nil {
				return nil, err
			}
			slog.Info("seeded repository", "entities", n)
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unknown repository.driver %q", config.Repository.Driver)
}

func newJobStore(config *cloud.Config, clients *cloud.ServiceClients) (jobs.Store, error) {
	ttl := time.Duration(config.Jobs.TTLSeconds) * time.Second
	switch config.Jobs.Store {
	case cloud.DriverRedis:
		if clients.Redis == nil {
			return nil, errors.New("jobs.store is redis but redis.addr is empty")
		}
		return jobs.NewRedisStore(clients.Redis, ttl), nil
	case cloud.DriverMemory, "":
		return jobs.NewMemoryStore(ttl), nil
	}
	return nil, fmt.Errorf("unknown jobs.store %q", config.Jobs.Store)
}

func newVerifier(config *cloud.Config) (verification.Verifier, error) {
	switch config.Verification.Provider {
	case "tmdb":
		if config.Verification.TMDb.APIKey == "" {
			return nil, fmt.Errorf("verification provider tmdb needs %s", cloud.EnvTMDbAPIKey)
		}
		return verification.NewTMDbClient(config.Verification.TMDb, &http.Client{}), nil
	case "fake", "":
		return verification.NewFake(verification.DefaultFixtures()), nil
	}
	return nil, fmt.Errorf("unknown verification.provider %q", config.Verification.Provider)
}

func newProvider(config *cloud.Config, clients *cloud.ServiceClients) (*ai.BreakerProvider, error) {
	var provider ai.Provider
	switch config.AI.Provider {
	case "gemini":
		agent, ok := clients.AgentModels[config.AI.AgentModel]
		if !ok {
			return nil, fmt.Errorf("ai.agent_model %q is not configured", config.AI.AgentModel)
		}
		provider = ai.NewGemini(agent)
	case "openai":
		p, err := ai.NewOpenAI(config.OpenAI, &http.Client{})
		if err != nil {
			return nil, err
		}
		provider = p
	case "mock", "":
		provider = ai.NewMock(mockAIDelay)
	default:
		return nil, fmt.Errorf("unknown ai.provider %q", config.AI.Provider)
	}
	slog.Info("ai provider configured", "provider", provider.Name())
	return ai.WithBreaker(provider, aiBreakerFailures, aiBreakerTimeout), nil
}

// newArchive returns a nil interface, not a nil *GCSObjectWriter, when no
// bucket is configured; the workflow skips archiving on nil.
func newArchive(config *cloud.Config, clients *cloud.ServiceClients) cloud.ObjectWriter {
	if config.Storage.ArchiveBucket == "" || clients.StorageClient == nil {
		return nil
	}
	return cloud.NewGCSObjectWriter(clients.StorageClient, config.Storage.ArchiveBucket, config.Storage.ArchivePrefix)
}

func (s *StateManager) healthChecks(provider *ai.BreakerProvider, verifier verification.Verifier) []api.HealthCheck {
	checks := []api.HealthCheck{
		{Name: "job_store", Critical: true, Check: func(ctx context.Context) (string, error) {
			return s.config.Jobs.Store, s.store.Ping(ctx)
		}},
		{Name: "ai_provider", Check: func(context.Context) (string, error) {
			state := provider.State()
			if state == "open" {
				return provider.Name(), fmt.Errorf("circuit breaker %s", state)
			}
			return provider.Name() + " (" + state + ")", nil
		}},
		{Name: "verification", Check: func(context.Context) (string, error) {
			tmdb, ok := verifier.(*verification.TMDbClient)
			if !ok {
				return verifier.Name(), nil
			}
			state := tmdb.BreakerState()
			if state == "open" {
				return tmdb.Name(), fmt.Errorf("circuit breaker %s", state)
			}
			return tmdb.Name() + " (" + state + ")", nil
		}},
	}
	if s.cloud.Redis != nil {
		checks = append(checks, api.HealthCheck{Name: "redis", Critical: true, Check: func(ctx context.Context) (string, error) {
			return "", s.cloud.Redis.Ping(ctx).Err()
		}})
	}
	if s.dispatcher != nil {
		checks = append(checks, api.HealthCheck{Name: "queue", Check: func(context.Context) (string, error) {
			depth, capacity := s.dispatcher.Depth()
			if depth >= capacity {
				return fmt.Sprintf("%d/%d", depth, capacity), workflow.ErrQueueFull
			}
			return fmt.Sprintf("%d/%d", depth, capacity), nil
		}})
	}
	return checks
}
