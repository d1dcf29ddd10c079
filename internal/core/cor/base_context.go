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

package cor

import (
	"context"
	"sync"
)

type namedError struct {
	name string
	err  error
}

// BaseContext is the default, mutex-guarded Context.
type BaseContext struct {
	mu      sync.RWMutex
	data    map[string]any
	errors  []namedError
	context context.Context
}

// NewBaseContext creates an empty Context.
func NewBaseContext() Context {
	return &BaseContext{data: make(map[string]any)}
}

// NewContextFor creates a Context bound to ctx.
func NewContextFor(ctx context.Context) Context {
	c := NewBaseContext()
	c.SetContext(ctx)
	return c
}

func (c *BaseContext) SetContext(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.context = ctx
}

func (c *BaseContext) GetContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.context
}

func (c *BaseContext) Add(key string, value any) Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return c
}

func (c *BaseContext) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[key]
}

func (c *BaseContext) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// AddError records err for the named command. A second error from the same
// command replaces the first but keeps its position.
func (c *BaseContext) AddError(name string, err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.errors {
		if c.errors[i].name == name {
			c.errors[i].err = err
			return
		}
	}
	c.errors = append(c.errors, namedError{name: name, err: err})
}

func (c *BaseContext) GetErrors() map[string]error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]error, len(c.errors))
	for _, e := range c.errors {
		out[e.name] = e.err
	}
	return out
}

func (c *BaseContext) FirstError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.errors) == 0 {
		return nil
	}
	return c.errors[0].err
}

func (c *BaseContext) HasErrors() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.errors) > 0
}
