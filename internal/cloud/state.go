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

// Package cloud manages the long-lived clients of the service. This file
// defines ServiceClients, the container that builds each client once at
// startup and hands it to the components that need it.
//
// Only the clients the configuration asks for are created: Cloud Storage
// when an archive bucket is set, Pub/Sub when jobs travel over Pub/Sub,
// Gemini when it is the AI provider, BigQuery when it backs the repository and
// Redis when an address is configured. A nil field means "not configured".
package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"
)

// ServiceClients holds the process-wide clients.
type ServiceClients struct {
	StorageClient   *storage.Client
	PubsubClient    *pubsub.Client
	GenAIClient     *genai.Client
	BigQueryClient  *bigquery.Client
	Redis           redis.UniversalClient
	PubSubListeners map[string]*PubSubListener
	AgentModels     map[string]*QuotaAwareGenerativeAIModel
}

// Close releases every client that was created.
func (c *ServiceClients) Close() {
	if c.StorageClient != nil {
		_ = c.StorageClient.Close()
	}
	if c.PubsubClient != nil {
		_ = c.PubsubClient.Close()
	}
	if c.BigQueryClient != nil {
		_ = c.BigQueryClient.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}

// NewRedisClient connects to Redis and pings it.
func NewRedisClient(ctx context.Context, config Redis) (redis.UniversalClient, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       []string{config.Addr},
		Password:    config.Password,
		DB:          config.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", config.Addr, err)
	}
	return rdb, nil
}

// NewCloudServiceClients creates the clients the configuration needs.
//
// Inputs:
//   - ctx: Used for client construction.
//   - config: The loaded configuration.
//
// Outputs:
//   - *ServiceClients: The container; unconfigured clients are nil.
//   - error: The first client that failed to start. Clients created before
//     the failure are closed.
func NewCloudServiceClients(ctx context.Context, config *Config) (_ *ServiceClients, err error) {
	cloud := &ServiceClients{
		PubSubListeners: make(map[string]*PubSubListener),
		AgentModels:     make(map[string]*QuotaAwareGenerativeAIModel),
	}
	defer func() {
		if err != nil {
			cloud.Close()
		}
	}()

	if config.Redis.Addr != "" {
		if cloud.Redis, err = NewRedisClient(ctx, config.Redis); err != nil {
			return nil, err
		}
	}

	if config.Storage.ArchiveBucket != "" {
		if cloud.StorageClient, err = storage.NewClient(ctx); err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
	}

	if config.Jobs.QueueDriver == DriverPubSub {
		if cloud.PubsubClient, err = pubsub.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		for key, values := range config.TopicSubscriptions {
			cloud.PubSubListeners[key] = NewPubSubListener(cloud.PubsubClient, values.Name, nil)
		}
	}

	if config.Repository.Driver == DriverBigQuery {
		if cloud.BigQueryClient, err = bigquery.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
			return nil, fmt.Errorf("bigquery client: %w", err)
		}
	}

	if config.AI.Provider == "gemini" {
		cloud.GenAIClient, err = genai.NewClient(ctx, &genai.ClientConfig{
			Project:  config.Application.GoogleProjectId,
			Location: config.Application.GoogleLocation,
			Backend:  genai.BackendVertexAI,
		})
		if err != nil {
			return nil, fmt.Errorf("genai client: %w", err)
		}
		for key, values := range config.AgentModels {
			cloud.AgentModels[key] = NewQuotaAwareModel(NewGenerateContentConfig(values), values.Model, cloud.GenAIClient.Models, values.RateLimit)
			slog.Debug("configured agent model", "key", key, "model", values.Model)
		}
	}

	return cloud, nil
}
