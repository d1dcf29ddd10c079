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
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidAPIKey        = errors.New("invalid api key")
	ErrMonthlyLimitExceeded = errors.New("monthly request limit exceeded")
	ErrPerMinuteExceeded    = errors.New("per-minute rate limit exceeded")
)

// Plan features.
const (
	FeatureRead        = "read"
	FeatureGenerate    = "generate"
	FeatureContextTags = "context_tags"
	FeatureWebhooks    = "webhooks"
	FeatureAnalytics   = "analytics"
)

// Plan is a subscription tier. A MonthlyLimit of zero means unlimited.
type Plan struct {
	Name         string   `toml:"-"`
	MonthlyLimit int      `toml:"monthly_limit"`
	PerMinute    int      `toml:"rate_limit_per_minute"`
	Features     []string `toml:"features"`
}

// Has reports whether the plan includes a feature.
func (p Plan) Has(feature string) bool {
	return slices.Contains(p.Features, feature)
}

// Unlimited reports whether the plan has no monthly cap.
func (p Plan) Unlimited() bool { return p.MonthlyLimit == 0 }

// DefaultPlans returns the stock plans.
func DefaultPlans() map[string]Plan {
	return map[string]Plan{
		"free":       {Name: "free", MonthlyLimit: 100, PerMinute: 10, Features: []string{FeatureRead}},
		"pro":        {Name: "pro", MonthlyLimit: 10000, PerMinute: 100, Features: []string{FeatureRead, FeatureGenerate, FeatureContextTags}},
		"enterprise": {Name: "enterprise", MonthlyLimit: 0, PerMinute: 1000, Features: []string{FeatureRead, FeatureGenerate, FeatureContextTags, FeatureWebhooks, FeatureAnalytics}},
	}
}

// APIKey binds the SHA-256 hash of a key to a plan.
type APIKey struct {
	Hash string `toml:"hash"`
	Plan string `toml:"plan"`
}

// UsageCounter keeps monthly request counts.
type UsageCounter interface {
	// IncrIfBelow adds one to key unless it already reached limit. A limit of
	// zero never refuses. It returns the count after the call.
	IncrIfBelow(ctx context.Context, key string, limit int, ttl time.Duration) (int64, bool, error)
	// Count returns the current value of key without changing it.
	Count(ctx context.Context, key string) (int64, error)
}

// Usage is the outcome of a successful quota check.
type Usage struct {
	Plan               Plan
	MonthlyUsed        int64
	PerMinuteRemaining int
	RetryAfter         time.Duration
}

// MonthlyRemaining is the number of requests left this month; -1 when the
// plan is unlimited.
func (u Usage) MonthlyRemaining() int64 {
	if u.Plan.Unlimited() {
		return -1
	}
	return max(0, int64(u.Plan.MonthlyLimit)-u.MonthlyUsed)
}

// PlanQuota applies plan limits to requests that carry an API key.
type PlanQuota struct {
	plans  map[string]Plan
	keys   map[string]string
	window WindowStore
	usage  UsageCounter
	now    func() time.Time
}

// NewPlanQuota merges the configured plans over the defaults and indexes the
// API keys. Keys must reference a known plan.
func NewPlanQuota(plans map[string]Plan, keys []APIKey, window WindowStore, usage UsageCounter) (*PlanQuota, error) {
	merged := DefaultPlans()
	for name, p := range plans {
		p.Name = name
		merged[name] = p
	}
	index := make(map[string]string, len(keys))
	for _, k := range keys {
		if _, ok := merged[k.Plan]; !ok {
			return nil, fmt.Errorf("api key %s...: unknown plan %q", prefix(k.Hash), k.Plan)
		}
		index[strings.ToLower(k.Hash)] = k.Plan
	}
	return &PlanQuota{plans: merged, keys: index, window: window, usage: usage, now: time.Now}, nil
}

// WithClock replaces the quota's clock.
func (q *PlanQuota) WithClock(now func() time.Time) *PlanQuota {
	q.now = now
	return q
}

// PlanFor resolves the plan of a raw API key.
func (q *PlanQuota) PlanFor(apiKey string) (Plan, bool) {
	name, ok := q.keys[HashAPIKey(apiKey)]
	if !ok {
		return Plan{}, false
	}
	return q.plans[name], true
}

// Check counts one request for apiKey: first against the plan's per-minute
// limit, then against its monthly quota.
//
// Inputs:
//   - ctx: The request context.
//   - apiKey: The raw key from the request.
//
// Outputs:
//   - Usage: The plan and its counters. Filled in on quota errors too.
//   - error: ErrInvalidAPIKey, ErrPerMinuteExceeded, ErrMonthlyLimitExceeded
//     or a store failure.
func (q *PlanQuota) Check(ctx context.Context, apiKey string) (Usage, error) {
	hash := HashAPIKey(apiKey)
	name, ok := q.keys[hash]
	if !ok {
		return Usage{}, ErrInvalidAPIKey
	}
	plan := q.plans[name]
	u := Usage{Plan: plan}

	d, err := q.window.Hit(ctx, "plan:minute:"+hash, plan.PerMinute, time.Minute)
	if err != nil {
		return u, err
	}
	u.PerMinuteRemaining = d.Remaining
	now := q.now().UTC()
	monthKey := "plan:month:" + hash + ":" + now.Format("2006-01")
	if !d.Allowed {
		u.RetryAfter = d.RetryAfter
		// The request is not counted, but the headers still report the month.
		if used, err := q.usage.Count(ctx, monthKey); err == nil {
			u.MonthlyUsed = used
		}
		return u, ErrPerMinuteExceeded
	}

	used, allowed, err := q.usage.IncrIfBelow(ctx, monthKey, plan.MonthlyLimit, untilNextMonth(now))
	if err != nil {
		return u, err
	}
	u.MonthlyUsed = used
	if !allowed {
		return u, ErrMonthlyLimitExceeded
	}
	return u, nil
}

// untilNextMonth keeps a monthly counter a day past the month's end.
func untilNextMonth(now time.Time) time.Duration {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, 1).Sub(now)
}

func prefix(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// incrIfBelowScript increments a counter unless it reached the limit.
//
// KEYS[1] counter
// ARGV[1] limit (0 = unlimited), ARGV[2] ttl ms
// Returns {allowed, count}.
var incrIfBelowScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if limit > 0 and cur >= limit then
  return {0, cur}
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, n}
`)

// RedisUsage is a UsageCounter in Redis.
type RedisUsage struct {
	rdb redis.UniversalClient
}

// NewRedisUsage creates a Redis usage counter.
func NewRedisUsage(rdb redis.UniversalClient) *RedisUsage {
	return &RedisUsage{rdb: rdb}
}

func (r *RedisUsage) IncrIfBelow(ctx context.Context, key string, limit int, ttl time.Duration) (int64, bool, error) {
	res, err := incrIfBelowScript.Run(ctx, r.rdb, []string{key}, limit, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("usage %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("usage %s: unexpected script reply %v", key, res)
	}
	return res[1], res[0] == 1, nil
}

func (r *RedisUsage) Count(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("usage %s: %w", key, err)
	}
	return n, nil
}

// MemoryUsage is an in-process UsageCounter. Counters are keyed by month, so
// expiry is not tracked.
type MemoryUsage struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryUsage creates an empty in-memory usage counter.
func NewMemoryUsage() *MemoryUsage {
	return &MemoryUsage{counts: make(map[string]int64)}
}

func (m *MemoryUsage) IncrIfBelow(_ context.Context, key string, limit int, _ time.Duration) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.counts[key]
	if limit > 0 && cur >= int64(limit) {
		return cur, false, nil
	}
	cur++
	m.counts[key] = cur
	return cur, true, nil
}

func (m *MemoryUsage) Count(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key], nil
}
