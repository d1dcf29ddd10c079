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
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

// LoadLevel is the banded form of the load signal.
type LoadLevel string

const (
	LoadLow      LoadLevel = "low"
	LoadMedium   LoadLevel = "medium"
	LoadHigh     LoadLevel = "high"
	LoadCritical LoadLevel = "critical"
)

// LevelFor bands a load value: below 0.3 low, below 0.6 medium, below 0.85
// high, critical otherwise.
func LevelFor(load float64) LoadLevel {
	switch {
	case load < 0.3:
		return LoadLow
	case load < 0.6:
		return LoadMedium
	case load < 0.85:
		return LoadHigh
	}
	return LoadCritical
}

// factor is the share of a class's default ceiling granted at a level. The
// critical level falls back to the class minimum.
func (l LoadLevel) factor() float64 {
	switch l {
	case LoadLow:
		return 1.0
	case LoadMedium:
		return 0.8
	case LoadHigh:
		return 0.5
	}
	return 0
}

// LoadSource reports the current load in [0, 1.5].
type LoadSource interface {
	Load() float64
}

// StaticLoad is a fixed LoadSource.
type StaticLoad float64

func (s StaticLoad) Load() float64 { return float64(s) }

// QueueGauge reports how full the generation queue is.
type QueueGauge func() (depth, capacity int)

// LoadConfig configures the LoadMonitor.
type LoadConfig struct {
	WindowSeconds int `toml:"window_seconds"`
	Buckets       int `toml:"buckets"`
	MaxInflight   int `toml:"max_inflight"`
	// MinSamples is how many requests the interval needs before the error
	// rate counts.
	MinSamples int `toml:"min_samples"`
	// CPUWeight adds host CPU utilization to the signal; zero leaves it out.
	CPUWeight        float64 `toml:"cpu_weight"`
	CPUSampleSeconds int     `toml:"cpu_sample_seconds"`
}

// DefaultLoadConfig returns the stock monitor settings.
func DefaultLoadConfig() LoadConfig {
	return LoadConfig{WindowSeconds: 60, Buckets: 12, MaxInflight: 200, MinSamples: 20, CPUSampleSeconds: 10}
}

// LoadMonitor derives a load signal from what the service observes itself:
//
//	load = 0.4*error_rate + 0.4*queue_utilization + 0.2*inflight_utilization
//
// Error rate is measured over a sliding interval, so the signal recovers on
// its own once failures stop.
type LoadMonitor struct {
	cfg      LoadConfig
	requests *bucketCounter
	failures *bucketCounter
	inflight atomic.Int64
	queue    atomic.Pointer[QueueGauge]
	cpuBits  atomic.Uint64
}

// NewLoadMonitor creates a monitor. Zero config fields take the defaults.
func NewLoadMonitor(cfg LoadConfig) *LoadMonitor {
	return newLoadMonitor(cfg, time.Now)
}

func newLoadMonitor(cfg LoadConfig, now func() time.Time) *LoadMonitor {
	d := DefaultLoadConfig()
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = d.WindowSeconds
	}
	if cfg.Buckets <= 0 {
		cfg.Buckets = d.Buckets
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = d.MaxInflight
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = d.MinSamples
	}
	if cfg.CPUSampleSeconds <= 0 {
		cfg.CPUSampleSeconds = d.CPUSampleSeconds
	}
	window := time.Duration(cfg.WindowSeconds) * time.Second
	return &LoadMonitor{
		cfg:      cfg,
		requests: newBucketCounter(window, cfg.Buckets, now),
		failures: newBucketCounter(window, cfg.Buckets, now),
	}
}

// SetQueueGauge attaches the generation queue.
func (m *LoadMonitor) SetQueueGauge(g QueueGauge) {
	m.queue.Store(&g)
}

// Begin marks a request as in flight. The returned func ends it and records
// whether it failed.
func (m *LoadMonitor) Begin() func(failed bool) {
	m.inflight.Add(1)
	return func(failed bool) {
		m.inflight.Add(-1)
		m.Record(failed)
	}
}

// Record counts one finished request.
func (m *LoadMonitor) Record(failed bool) {
	m.requests.add(1)
	if failed {
		m.failures.add(1)
	}
}

// ErrorRate is the failed share of the requests in the interval.
func (m *LoadMonitor) ErrorRate() float64 {
	total := m.requests.count()
	if total < int64(m.cfg.MinSamples) {
		return 0
	}
	return ratio(float64(m.failures.count()), float64(total))
}

// Load computes the current load signal, clamped to [0, 1.5].
func (m *LoadMonitor) Load() float64 {
	queue := 0.0
	if g := m.queue.Load(); g != nil {
		depth, capacity := (*g)()
		queue = ratio(float64(depth), float64(capacity))
	}
	inflight := ratio(float64(m.inflight.Load()), float64(m.cfg.MaxInflight))

	load := 0.4*m.ErrorRate() + 0.4*queue + 0.2*inflight
	if m.cfg.CPUWeight > 0 {
		load += m.cfg.CPUWeight * math.Float64frombits(m.cpuBits.Load())
	}
	return math.Max(0, math.Min(1.5, load))
}

// Run samples host CPU until ctx is done. It returns immediately when the CPU
// term is disabled.
func (m *LoadMonitor) Run(ctx context.Context) {
	if m.cfg.CPUWeight <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(m.cfg.CPUSampleSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pct, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil || len(pct) == 0 {
				slog.DebugContext(ctx, "cpu sample failed", "error", err)
				continue
			}
			m.cpuBits.Store(math.Float64bits(ratio(pct[0], 100)))
		}
	}
}

func ratio(v, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, v/limit))
}
