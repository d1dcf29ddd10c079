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

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

var (
	// ErrQueueFull is returned when the in-process queue has no room.
	ErrQueueFull = errors.New("generation queue is full")
	// ErrDispatcherStopped is returned by Dispatch after Stop.
	ErrDispatcherStopped = errors.New("generation dispatcher is stopped")
)

// Dispatcher delivers the "generation requested" event to the workers.
type Dispatcher interface {
	Dispatch(ctx context.Context, task model.GenerationTask) error
}

// TaskHandler runs one task; GenerationWorkflow.Run is the production handler.
type TaskHandler func(ctx context.Context, task model.GenerationTask) error

// ChannelDispatcher is an in-process queue drained by a fixed worker pool.
type ChannelDispatcher struct {
	handler TaskHandler
	workers int
	queue   chan model.GenerationTask

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewChannelDispatcher creates a dispatcher with a buffered queue of
// queueSize and workers goroutines. Call Start before dispatching.
func NewChannelDispatcher(handler TaskHandler, workers, queueSize int) *ChannelDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &ChannelDispatcher{handler: handler, workers: workers, queue: make(chan model.GenerationTask, queueSize)}
}

// Start launches the workers. They run until Stop; ctx is the parent of
// every job context.
func (d *ChannelDispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(worker int) {
			defer d.wg.Done()
			for task := range d.queue {
				if err := d.handler(ctx, task); err != nil {
					slog.ErrorContext(ctx, "generation task failed", "worker", worker, "job_id", task.JobID, "error", err)
				}
			}
		}(i)
	}
}

// Dispatch enqueues a task without blocking.
func (d *ChannelDispatcher) Dispatch(ctx context.Context, task model.GenerationTask) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	select {
	case d.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("%w (%d tasks waiting)", ErrQueueFull, cap(d.queue))
	}
}

// Depth reports the queue length and capacity. It matches
// ratelimit.QueueGauge.
func (d *ChannelDispatcher) Depth() (int, int) {
	return len(d.queue), cap(d.queue)
}

// Stop refuses new tasks and waits for the queued and in-flight ones to
// finish, or for ctx to end.
func (d *ChannelDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publisher publishes raw messages; cloud.PubSubPublisher implements it.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

// PubSubDispatcher publishes tasks as JSON. A cloud.PubSubListener running
// the generation listener command consumes them.
type PubSubDispatcher struct {
	publisher Publisher
}

func NewPubSubDispatcher(publisher Publisher) *PubSubDispatcher {
	return &PubSubDispatcher{publisher: publisher}
}

func (d *PubSubDispatcher) Dispatch(ctx context.Context, task model.GenerationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding generation task: %w", err)
	}
	id, err := d.publisher.Publish(ctx, data, map[string]string{
		"job_id":      task.JobID,
		"entity_type": string(task.EntityType),
	})
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "generation task published", "job_id", task.JobID, "message_id", id)
	return nil
}
