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

package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

type memoryEntry struct {
	job     model.Job
	expires time.Time
}

// MemoryStore is an in-process Store with per-record expiry. It serves tests
// and single-process deployments.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	jobs  map[string]memoryEntry
	slots map[string]string
}

// NewMemoryStore creates a MemoryStore; a non-positive ttl takes DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:   ttl,
		now:   time.Now,
		jobs:  make(map[string]memoryEntry),
		slots: make(map[string]string),
	}
}

// WithClock replaces the store's clock.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// lookup returns a live entry, dropping it when expired. Callers hold mu.
func (s *MemoryStore) lookup(id string) (memoryEntry, bool) {
	e, ok := s.jobs[id]
	if !ok {
		return e, false
	}
	if !s.now().Before(e.expires) {
		delete(s.jobs, id)
		return e, false
	}
	return e, true
}

func (s *MemoryStore) Create(_ context.Context, req model.GenerationRequest) (model.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey(req.EntityType, req.Slug)
	if id, ok := s.slots[key]; ok {
		if e, live := s.lookup(id); live && e.job.Status == model.JobPending {
			return e.job, false, nil
		}
		delete(s.slots, key)
	}

	now := s.now()
	job := newJob(req, now)
	s.jobs[job.ID] = memoryEntry{job: job, expires: now.Add(s.ttl)}
	s.slots[key] = job.ID
	return job, true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	return e.job, ok, nil
}

func (s *MemoryStore) MarkDone(_ context.Context, id string, result model.JobResult) error {
	return s.transition(id, func(j model.Job) model.Job { return applyDone(j, result, s.now()) })
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, jobErr model.JobError) error {
	return s.transition(id, func(j model.Job) model.Job { return applyFailed(j, jobErr, s.now()) })
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) transition(id string, apply func(model.Job) model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	if e.job.Status != model.JobPending {
		return fmt.Errorf("job %s: %w", id, ErrNotPending)
	}
	key := slotKey(e.job.Entity, e.job.Slug)
	// The original expiry is kept.
	e.job = apply(e.job)
	s.jobs[id] = e

	if s.slots[key] == id {
		delete(s.slots, key)
	}
	return nil
}
