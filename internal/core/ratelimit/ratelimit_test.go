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
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func windowStores(t *testing.T, c *clock) map[string]WindowStore {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]WindowStore{
		"memory": NewMemoryWindow().WithClock(c.now),
		"redis":  NewRedisWindow(rdb).WithClock(c.now),
	}
}

func TestCeilingStaysWithinBounds(t *testing.T) {
	for class, p := range DefaultPolicies() {
		prev := p.Default
		for load := 0.0; load <= 1.5; load += 0.05 {
			l, err := NewAdaptiveLimiter(Config{}, NewMemoryWindow(), StaticLoad(load))
			require.NoError(t, err)
			c := l.Ceiling(class)
			assert.GreaterOrEqual(t, c, p.Min, "%s at %.2f", class, load)
			assert.LessOrEqual(t, c, p.Default, "%s at %.2f", class, load)
			assert.LessOrEqual(t, c, prev, "%s at %.2f", class, load)
			prev = c
		}
	}
}

func TestCeilingPerLevel(t *testing.T) {
	p := Policy{Default: 100, Min: 20}
	assert.Equal(t, 100, ceilingFor(p, LoadLow))
	assert.Equal(t, 80, ceilingFor(p, LoadMedium))
	assert.Equal(t, 50, ceilingFor(p, LoadHigh))
	assert.Equal(t, 20, ceilingFor(p, LoadCritical))

	// The floor wins when the reduced ceiling would drop below it.
	assert.Equal(t, 5, ceilingFor(Policy{Default: 6, Min: 5}, LoadHigh))
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, LoadLow, LevelFor(0))
	assert.Equal(t, LoadLow, LevelFor(0.29))
	assert.Equal(t, LoadMedium, LevelFor(0.3))
	assert.Equal(t, LoadHigh, LevelFor(0.6))
	assert.Equal(t, LoadCritical, LevelFor(0.85))
	assert.Equal(t, LoadCritical, LevelFor(1.5))
}

func TestConfigValidation(t *testing.T) {
	_, err := NewAdaptiveLimiter(Config{Policies: map[Class]Policy{ClassSearch: {Default: 5, Min: 10}}}, NewMemoryWindow(), nil)
	assert.Error(t, err)

	_, err = NewAdaptiveLimiter(Config{Policies: map[Class]Policy{"upload": {Default: 5, Min: 1}}}, NewMemoryWindow(), nil)
	assert.Error(t, err)

	l, err := NewAdaptiveLimiter(Config{Policies: map[Class]Policy{"SEARCH": {Default: 5, Min: 1}}}, NewMemoryWindow(), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, l.Ceiling(ClassSearch))
}

func TestClientsAndClassesAreIsolated(t *testing.T) {
	c := newClock()
	for name, store := range windowStores(t, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l, err := NewAdaptiveLimiter(Config{Policies: map[Class]Policy{
				ClassSearch: {Default: 3, Min: 1},
				ClassShow:   {Default: 3, Min: 1},
			}}, store, nil)
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				d, err := l.Allow(ctx, ClassSearch, "ip:10.0.0.1")
				require.NoError(t, err)
				assert.True(t, d.Allowed)
				assert.Equal(t, 2-i, d.Remaining)
			}
			d, err := l.Allow(ctx, ClassSearch, "ip:10.0.0.1")
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 3, d.Limit)
			assert.Greater(t, d.RetryAfter, time.Duration(0))

			d, err = l.Allow(ctx, ClassSearch, "ip:10.0.0.2")
			require.NoError(t, err)
			assert.True(t, d.Allowed, "another client keeps its own budget")

			d, err = l.Allow(ctx, ClassShow, "ip:10.0.0.1")
			require.NoError(t, err)
			assert.True(t, d.Allowed, "another class keeps its own budget")
		})
	}
}

func TestWindowSlides(t *testing.T) {
	c := newClock()
	for name, store := range windowStores(t, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "rl:test:" + name
			_, err := store.Hit(ctx, key, 2, time.Minute)
			require.NoError(t, err)
			c.advance(30 * time.Second)
			_, err = store.Hit(ctx, key, 2, time.Minute)
			require.NoError(t, err)

			d, err := store.Hit(ctx, key, 2, time.Minute)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 30*time.Second, d.RetryAfter)

			c.advance(31 * time.Second)
			d, err = store.Hit(ctx, key, 2, time.Minute)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		})
	}
}

func TestConcurrentHitsNeverExceedLimit(t *testing.T) {
	c := newClock()
	for name, store := range windowStores(t, c) {
		t.Run(name, func(t *testing.T) {
			var allowed atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := store.Hit(context.Background(), "rl:search:ip:1.1.1.1", 5, time.Minute)
					assert.NoError(t, err)
					if d.Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(5), allowed.Load())
		})
	}
}

func TestLoadMonitor(t *testing.T) {
	c := newClock()
	m := newLoadMonitor(LoadConfig{WindowSeconds: 60, Buckets: 12, MaxInflight: 10, MinSamples: 10}, c.now)

	assert.Equal(t, 0.0, m.Load())

	for i := 0; i < 20; i++ {
		m.Record(i%2 == 0)
	}
	assert.InDelta(t, 0.5, m.ErrorRate(), 1e-9)
	assert.InDelta(t, 0.2, m.Load(), 1e-9)

	m.SetQueueGauge(func() (int, int) { return 5, 10 })
	assert.InDelta(t, 0.4, m.Load(), 1e-9)

	done := m.Begin()
	assert.InDelta(t, 0.42, m.Load(), 1e-9)
	done(false)

	// The error rate drains out of the interval.
	c.advance(61 * time.Second)
	assert.Equal(t, 0.0, m.ErrorRate())
	assert.InDelta(t, 0.2, m.Load(), 1e-9)
}

func TestErrorRateNeedsSamples(t *testing.T) {
	m := newLoadMonitor(LoadConfig{MinSamples: 20}, time.Now)
	for i := 0; i < 5; i++ {
		m.Record(true)
	}
	assert.Equal(t, 0.0, m.ErrorRate())
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/movies/search", nil)
	r.RemoteAddr = "192.0.2.10:41234"
	assert.Equal(t, "ip:192.0.2.10", ClientKey(r))

	r.Header.Set(APIKeyHeader, "secret-key")
	k := ClientKey(r)
	assert.Equal(t, "key:"+HashAPIKey("secret-key")[:16], k)
	assert.NotContains(t, k, "secret")
}
