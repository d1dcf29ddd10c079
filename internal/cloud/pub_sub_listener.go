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

// Package cloud provides components for interacting with Google Cloud services.
// This file defines the Pub/Sub side of the job queue: PubSubListener receives
// messages from a subscription and hands each one to a cor.Command, and
// PubSubPublisher sends them.
//
// Logic Flow:
//  1. The listener is created for a subscription and given a Command.
//  2. Listen starts a goroutine that blocks in Receive until ctx is done.
//  3. Each message runs the Command with the message data under cor.CtxIn.
//  4. The message is acknowledged only when the Command records no error.
//     Otherwise it is nacked and redelivered under the subscription's retry
//     and dead-letter policy.
package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/cor"
)

// PubSubListener connects a subscription to a processing command.
type PubSubListener struct {
	client       *pubsub.Client
	subscription *pubsub.Subscription
	command      cor.Command
	mu           sync.Mutex
	done         chan struct{}
}

// NewPubSubListener creates a listener for subscriptionID. command may be nil
// and set later with SetCommand.
func NewPubSubListener(pubsubClient *pubsub.Client, subscriptionID string, command cor.Command) *PubSubListener {
	return &PubSubListener{
		client:       pubsubClient,
		subscription: pubsubClient.Subscription(subscriptionID),
		command:      command,
	}
}

// SetCommand attaches the command if none is set yet.
func (m *PubSubListener) SetCommand(command cor.Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.command == nil {
		m.command = command
	}
}

// Listen starts receiving in the background until ctx is done. Done is closed
// when the receiver has stopped.
func (m *PubSubListener) Listen(ctx context.Context) {
	m.mu.Lock()
	command := m.command
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	if command == nil {
		slog.Error("pubsub listener has no command", "subscription", m.subscription.ID())
		close(done)
		return
	}
	slog.Info("listening", "subscription", m.subscription.ID())

	go func() {
		defer close(done)
		tracer := otel.Tracer("message-listener")

		err := m.subscription.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
			spanCtx, span := tracer.Start(msgCtx, "receive-message")
			defer span.End()
			span.SetAttributes(attribute.String("message_id", msg.ID), attribute.Int("delivery_attempt", deliveryAttempt(msg)))

			chainCtx := cor.NewContextFor(spanCtx)
			chainCtx.Add(cor.CtxIn, msg.Data)
			command.Execute(chainCtx)

			if !chainCtx.HasErrors() {
				span.SetStatus(codes.Ok, "success")
				msg.Ack()
				return
			}
			span.SetStatus(codes.Error, "failed")
			for name, e := range chainCtx.GetErrors() {
				slog.ErrorContext(spanCtx, "error processing message", "command", name, "message_id", msg.ID, "error", e)
			}
			msg.Nack()
		})
		if err != nil {
			slog.Error("error receiving messages", "subscription", m.subscription.ID(), "error", err)
		}
	}()
}

// Done is closed once the receiver started by Listen has returned. It is nil
// before Listen is called.
func (m *PubSubListener) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func deliveryAttempt(msg *pubsub.Message) int {
	if msg.DeliveryAttempt == nil {
		return 0
	}
	return *msg.DeliveryAttempt
}

// PubSubPublisher publishes raw messages to one topic.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubPublisher creates a publisher for topicID.
func NewPubSubPublisher(client *pubsub.Client, topicID string) *PubSubPublisher {
	return &PubSubPublisher{topic: client.Topic(topicID)}
}

// Publish sends data and waits for the server to accept it.
func (p *PubSubPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attributes}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.topic.ID(), err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
}
