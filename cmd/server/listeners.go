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

// Package main contains the logic for setting up and starting the Pub/Sub
// message listeners. With the pubsub queue driver, generation tasks published
// by the API are consumed here and run through the generation workflow.
//
// Functions:
//   - SetupListeners: Attaches the generation workflow to the configured
//     subscription and starts listening.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-media-metadata/internal/cloud"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/workflow"
)

// SetupListeners starts the Pub/Sub listener that feeds generation tasks to
// the workflow. It does nothing for the in-process queue driver.
//
// Inputs:
//   - ctx: The application's root context; cancelling it stops the listener.
//   - config: Names the subscription under jobs.subscription.
//   - cloudClients: Holds the listeners created for topic_subscriptions.
//   - w: The generation workflow.
//
// Outputs:
//   - error: The subscription is not configured.
func SetupListeners(ctx context.Context, config *cloud.Config, cloudClients *cloud.ServiceClients, w *workflow.GenerationWorkflow) error {
	if config.Jobs.QueueDriver != cloud.DriverPubSub {
		return nil
	}
	listener, ok := cloudClients.PubSubListeners[config.Jobs.Subscription]
	if !ok {
		return fmt.Errorf("jobs.subscription %q has no topic_subscriptions entry", config.Jobs.Subscription)
	}
	listener.SetCommand(workflow.NewGenerationListener(w))
	listener.Listen(ctx)
	slog.Info("generation listener started", "subscription", config.TopicSubscriptions[config.Jobs.Subscription].Name)
	return nil
}
