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

package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// AdaptiveLimiter enforces a per-class, per-client ceiling that shrinks as the
// load signal rises.
type AdaptiveLimiter struct {
	store    WindowStore
	load     LoadSource
	policies map[Class]Policy
	window   time.Duration

	mu   sync.Mutex
	last map[Class]int
}

// NewAdaptiveLimiter validates the config and builds the limiter.
func NewAdaptiveLimiter(cfg Config, store WindowStore, load LoadSource) (*AdaptiveLimiter, error) {
	policies, err := cfg.policies()
	if err != nil {
		return nil, err
	}
	if load == nil {
		load = StaticLoad(0)
	}
	return &AdaptiveLimiter{
		store:    store,
		load:     load,
		policies: policies,
		window:   cfg.Window(),
		last:     make(map[Class]int),
	}, nil
}

// Policy returns the policy of a class.
func (l *AdaptiveLimiter) Policy(class Class) (Policy, bool) {
	p, ok := l.policies[class]
	return p, ok
}

// Ceiling computes a class's effective limit for the current load:
// max(min, floor(default*factor)), where the critical level yields min.
func (l *AdaptiveLimiter) Ceiling(class Class) int {
	p, ok := l.policies[class]
	if !ok {
		return 0
	}
	return ceilingFor(p, LevelFor(l.load.Load()))
}

func ceilingFor(p Policy, level LoadLevel) int {
	f := level.factor()
	if f == 0 {
		return p.Min
	}
	return min(p.Default, max(p.Min, int(math.Floor(float64(p.Default)*f))))
}

// Allow counts one request from client against class.
//
// Inputs:
//   - ctx: The request context.
//   - class: The endpoint class.
//   - client: The client identity from ClientKey.
//
// Outputs:
//   - Decision: Whether the request may proceed, with the effective limit.
//   - error: Store failures, or an unknown class.
func (l *AdaptiveLimiter) Allow(ctx context.Context, class Class, client string) (Decision, error) {
	p, ok := l.policies[class]
	if !ok {
		return Decision{}, fmt.Errorf("unknown rate limit class %q", class)
	}
	load := l.load.Load()
	level := LevelFor(load)
	ceiling := ceilingFor(p, level)
	l.noteCeiling(ctx, class, p, load, level, ceiling)

	return l.store.Hit(ctx, "rl:"+string(class)+":"+client, ceiling, l.window)
}

// noteCeiling logs when a class's ceiling moves.
func (l *AdaptiveLimiter) noteCeiling(ctx context.Context, class Class, p Policy, load float64, level LoadLevel, ceiling int) {
	l.mu.Lock()
	prev, seen := l.last[class]
	l.last[class] = ceiling
	l.mu.Unlock()
	if seen && prev == ceiling {
		return
	}
	slog.InfoContext(ctx, "adaptive rate limit adjusted",
		"class", class,
		"load", math.Round(load*1000)/1000,
		"level", level,
		"default", p.Default,
		"ceiling", ceiling)
}
