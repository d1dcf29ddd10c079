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
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// WindowStore counts hits per key over a sliding window.
type WindowStore interface {
	// Hit records one request under key when fewer than limit requests were
	// recorded in the last window. Denied requests are not recorded.
	Hit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// MemoryWindow is a sliding-log WindowStore kept in process memory.
type MemoryWindow struct {
	mu   sync.Mutex
	now  func() time.Time
	logs map[string][]time.Time
}

// NewMemoryWindow creates an empty in-memory window store.
func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{now: time.Now, logs: make(map[string][]time.Time)}
}

// WithClock replaces the store's clock.
func (m *MemoryWindow) WithClock(now func() time.Time) *MemoryWindow {
	m.now = now
	return m
}

func (m *MemoryWindow) Hit(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-window)
	log := m.logs[key]
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	log = log[i:]

	if len(log) >= limit {
		m.logs[key] = log
		retry := log[0].Add(window).Sub(now)
		if retry < time.Millisecond {
			retry = time.Millisecond
		}
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: retry}, nil
	}

	log = append(log, now)
	m.logs[key] = log
	return Decision{Allowed: true, Limit: limit, Remaining: limit - len(log)}, nil
}

// slidingLogScript trims, counts and conditionally records one hit on a
// sorted set scored by millisecond timestamps.
//
// KEYS[1] window key
// ARGV[1] now ms, ARGV[2] window ms, ARGV[3] limit, ARGV[4] member, ARGV[5] cutoff ms
// Returns {allowed, count, retry_ms}.
var slidingLogScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[5])
local count = redis.call('ZCARD', KEYS[1])
if count < limit then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return {1, count + 1, 0}
end
local retry = window
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if oldest[2] then
  retry = tonumber(oldest[2]) + window - now
end
if retry < 1 then
  retry = 1
end
return {0, count, retry}
`)

// RedisWindow is a sliding-log WindowStore shared by every API instance.
type RedisWindow struct {
	rdb redis.UniversalClient
	now func() time.Time
}

// NewRedisWindow creates a Redis-backed window store.
func NewRedisWindow(rdb redis.UniversalClient) *RedisWindow {
	return &RedisWindow{rdb: rdb, now: time.Now}
}

// WithClock replaces the store's clock.
func (w *RedisWindow) WithClock(now func() time.Time) *RedisWindow {
	w.now = now
	return w
}

func (w *RedisWindow) Hit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := w.now().UnixMilli()
	ms := window.Milliseconds()
	res, err := slidingLogScript.Run(ctx, w.rdb, []string{key},
		now, ms, limit, uuid.NewString(), strconv.FormatInt(now-ms, 10),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected script reply %v", key, res)
	}
	if res[0] == 1 {
		return Decision{Allowed: true, Limit: limit, Remaining: max(0, limit-int(res[1]))}, nil
	}
	return Decision{Allowed: false, Limit: limit, RetryAfter: time.Duration(res[2]) * time.Millisecond}, nil
}
