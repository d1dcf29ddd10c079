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

// Package cor (Chain of Responsibility) provides the building blocks the
// generation worker is assembled from. A chain runs commands in order over a
// shared Context; each command reads what earlier commands stored, adds its own
// output and records failures as errors on the Context rather than returning
// them.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CtxIn and CtxOut are the keys BaseChain pipes between commands.
const (
	// CtxIn is the default key for a command's primary input. BaseChain copies
	// the previous command's CtxOut value here.
	CtxIn = "__IN__"
	// CtxOut is the default key a command writes its primary output to.
	CtxOut = "__OUT__"
)

// Context is the property bag shared by the commands of one chain execution.
// Implementations must be safe for concurrent use: a workflow that times out
// reads the Context while the chain goroutine may still be writing to it.
type Context interface {
	// SetContext replaces the Go context carried by the chain. BaseChain swaps
	// in a span context around each command.
	SetContext(ctx context.Context)

	// GetContext returns the Go context for cancellation and tracing.
	GetContext() context.Context

	// Add stores a value and returns the Context for chaining.
	Add(key string, value any) Context

	// Get returns a stored value or nil.
	Get(key string) any

	// Remove deletes a stored value.
	Remove(key string)

	// AddError records the failure of the named command.
	AddError(name string, err error)

	// GetErrors returns a copy of the recorded errors keyed by command name.
	GetErrors() map[string]error

	// FirstError returns the earliest recorded error, or nil.
	FirstError() error

	// HasErrors reports whether any command failed.
	HasErrors() bool
}

// Executable is anything that can run against a Context.
type Executable interface {
	Execute(context Context)
}

// Command is one step of a chain.
type Command interface {
	Executable

	GetName() string

	GetInputParam() string

	GetOutputParam() string

	// IsExecutable decides whether the command runs. A command that is not
	// executable is skipped without failing the chain.
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer

	GetMeter() metric.Meter

	GetSuccessCounter() metric.Int64Counter

	GetErrorCounter() metric.Int64Counter
}

// Chain is a Command made of other commands.
type Chain interface {
	Command

	ContinueOnFailure(bool) Chain

	AddCommand(command Command) Chain

	// Commands lists the commands in execution order.
	Commands() []Command
}
