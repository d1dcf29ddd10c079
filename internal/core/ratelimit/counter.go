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
	"sync"
	"time"
)

// bucketCounter counts events over a sliding interval split into fixed
// buckets. Count is the sum of the live buckets, so old events fall out one
// bucket at a time as the interval slides.
type bucketCounter struct {
	mu         sync.Mutex
	now        func() time.Time
	buckets    []int64
	bucketSize time.Duration
	current    int
	lastTick   time.Time
}

func newBucketCounter(window time.Duration, n int, now func() time.Time) *bucketCounter {
	if n <= 0 {
		n = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &bucketCounter{
		now:        now,
		buckets:    make([]int64, n),
		bucketSize: window / time.Duration(n),
		lastTick:   now(),
	}
}

func (c *bucketCounter) add(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance()
	c.buckets[c.current] += delta
}

func (c *bucketCounter) count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance()
	var total int64
	for _, v := range c.buckets {
		total += v
	}
	return total
}

// advance clears the buckets that slid out of the interval. Callers hold mu.
func (c *bucketCounter) advance() {
	elapsed := int(c.now().Sub(c.lastTick) / c.bucketSize)
	if elapsed <= 0 {
		return
	}
	if elapsed >= len(c.buckets) {
		clear(c.buckets)
		c.current = 0
	} else {
		for i := 0; i < elapsed; i++ {
			c.current = (c.current + 1) % len(c.buckets)
			c.buckets[c.current] = 0
		}
	}
	c.lastTick = c.lastTick.Add(time.Duration(elapsed) * c.bucketSize)
}
