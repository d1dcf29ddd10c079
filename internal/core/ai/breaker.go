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

package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

// BreakerProvider stops calling a failing provider for a while. Only
// transient failures count; a "not found" or an invalid payload means the
// provider is healthy.
type BreakerProvider struct {
	next    Provider
	breaker *gobreaker.CircuitBreaker[model.GeneratedEntity]
}

// WithBreaker wraps next. The breaker opens after failures consecutive
// transient errors and probes again after timeout.
func WithBreaker(next Provider, failures uint32, timeout time.Duration) *BreakerProvider {
	if failures == 0 {
		failures = 5
	}
	return &BreakerProvider{
		next: next,
		breaker: gobreaker.NewCircuitBreaker[model.GeneratedEntity](gobreaker.Settings{
			Name:    next.Name(),
			Timeout: timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !IsTransient(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (b *BreakerProvider) Name() string { return b.next.Name() }

// State reports "closed", "half-open" or "open".
func (b *BreakerProvider) State() string { return b.breaker.State().String() }

func (b *BreakerProvider) Generate(ctx context.Context, req Request) (model.GeneratedEntity, error) {
	out, err := b.breaker.Execute(func() (model.GeneratedEntity, error) {
		return b.next.Generate(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return model.GeneratedEntity{}, fmt.Errorf("%w: %s: %w", model.ErrAIProvider, b.next.Name(), err)
	}
	return out, err
}
