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
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

// createScript claims the idempotency slot and writes the record in one step.
// A slot that points at a missing or finished record is taken over.
//
// KEYS[1] slot, KEYS[2] job record
// ARGV[1] job id, ARGV[2] record, ARGV[3] ttl ms, ARGV[4] job key prefix
var createScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
  local rec = redis.call('GET', ARGV[4] .. existing)
  if rec and string.find(rec, '"status":"PENDING"', 1, true) then
    return {0, existing, rec}
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return {1, ARGV[1], ARGV[2]}
`)

// finishScript moves a PENDING record to a terminal state, keeping its
// remaining TTL, and frees the slot if it still belongs to the job.
//
// KEYS[1] job record, KEYS[2] slot
// ARGV[1] new record, ARGV[2] job id
// Returns 1 on success, 0 when the record is gone, -1 when it is not PENDING.
var finishScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return 0
end
if not string.find(cur, '"status":"PENDING"', 1, true) then
  return -1
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[1])
end
if redis.call('GET', KEYS[2]) == ARGV[2] then
  redis.call('DEL', KEYS[2])
end
return 1
`)

// RedisStore keeps job records in Redis so every API and worker instance
// shares them.
type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
	now func() time.Time
}

// NewRedisStore creates a RedisStore; a non-positive ttl takes DefaultTTL.
func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}
}

// Create inserts a PENDING job or returns the pending one for the same
// entity type and slug.
//
// Inputs:
//   - ctx: The request context.
//   - req: The generation request; EntityType and Slug form the idempotency key.
//
// Outputs:
//   - model.Job: The new or existing job.
//   - bool: true when the job was created by this call.
//   - error: Redis or encoding failures.
func (s *RedisStore) Create(ctx context.Context, req model.GenerationRequest) (model.Job, bool, error) {
	job := newJob(req, s.now())
	raw, err := json.Marshal(job)
	if err != nil {
		return model.Job{}, false, fmt.Errorf("encode job: %w", err)
	}

	res, err := createScript.Run(ctx, s.rdb,
		[]string{slotKey(req.EntityType, req.Slug), jobKey(job.ID)},
		job.ID, raw, s.ttl.Milliseconds(), jobKey(""),
	).Slice()
	if err != nil {
		return model.Job{}, false, fmt.Errorf("create job: %w", err)
	}
	if len(res) != 3 {
		return model.Job{}, false, fmt.Errorf("create job: unexpected script reply %v", res)
	}

	created, _ := res[0].(int64)
	stored, _ := res[2].(string)
	var out model.Job
	if err := json.Unmarshal([]byte(stored), &out); err != nil {
		return model.Job{}, false, fmt.Errorf("decode job: %w", err)
	}
	return out, created == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (model.Job, bool, error) {
	raw, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Job{}, false, nil
	}
	if err != nil {
		return model.Job{}, false, fmt.Errorf("get job %s: %w", id, err)
	}
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return model.Job{}, false, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, true, nil
}

func (s *RedisStore) MarkDone(ctx context.Context, id string, result model.JobResult) error {
	return s.finish(ctx, id, func(j model.Job) model.Job { return applyDone(j, result, s.now()) })
}

func (s *RedisStore) MarkFailed(ctx context.Context, id string, jobErr model.JobError) error {
	return s.finish(ctx, id, func(j model.Job) model.Job { return applyFailed(j, jobErr, s.now()) })
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) finish(ctx context.Context, id string, apply func(model.Job) model.Job) error {
	cur, ok, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	if cur.Status != model.JobPending {
		return fmt.Errorf("job %s: %w", id, ErrNotPending)
	}

	raw, err := json.Marshal(apply(cur))
	if err != nil {
		return fmt.Errorf("encode job %s: %w", id, err)
	}
	// The script re-checks the status, so a concurrent transition that lands
	// between Get and here is refused rather than overwritten.
	n, err := finishScript.Run(ctx, s.rdb,
		[]string{jobKey(id), slotKey(cur.Entity, cur.Slug)},
		raw, id,
	).Int64()
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	switch n {
	case 0:
		return fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	case -1:
		return fmt.Errorf("job %s: %w", id, ErrNotPending)
	}
	return nil
}
