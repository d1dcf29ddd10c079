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
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// BaseChain is the default Chain. It runs its commands in order under one
// span, with a child span per command.
//
// Logic Flow:
//  1. Before each command the chain stops if an earlier command failed (unless
//     ContinueOnFailure is set) or if the Go context is done. A done context is
//     recorded as the error of the command that did not get to run.
//  2. A command whose IsExecutable is false is skipped; its span is marked
//     "skipped" and the chain carries on.
//  3. After each command the value under CtxOut becomes the CtxIn of the next.
type BaseChain struct {
	BaseCommand
	continueOnFailure bool
	commands          []Command
}

// NewBaseChain creates an empty chain.
func NewBaseChain(name string) *BaseChain {
	return &BaseChain{BaseCommand: *NewBaseCommand(name)}
}

func (c *BaseChain) ContinueOnFailure(continueOnFailure bool) Chain {
	c.continueOnFailure = continueOnFailure
	return c
}

func (c *BaseChain) AddCommand(command Command) Chain {
	c.commands = append(c.commands, command)
	return c
}

func (c *BaseChain) Commands() []Command {
	out := make([]Command, len(c.commands))
	copy(out, c.commands)
	return out
}

// IsExecutable only needs a Go context; the commands check their own inputs.
func (c *BaseChain) IsExecutable(context Context) bool {
	return context != nil && context.GetContext() != nil
}

func (c *BaseChain) Execute(chCtx Context) {
	parentCtx := chCtx.GetContext()
	outerCtx, chainSpan := c.Tracer.Start(parentCtx, fmt.Sprintf("%s_execute", c.GetName()))
	defer chainSpan.End()

	for _, command := range c.commands {
		if chCtx.HasErrors() && !c.continueOnFailure {
			break
		}
		if err := outerCtx.Err(); err != nil {
			chCtx.AddError(command.GetName(), err)
			break
		}

		commandContext, commandSpan := c.Tracer.Start(outerCtx, command.GetName())
		if !command.IsExecutable(chCtx) {
			commandSpan.SetAttributes(attribute.Bool("skipped", true))
			commandSpan.SetStatus(codes.Unset, "skipped")
			commandSpan.End()
			continue
		}

		chCtx.SetContext(commandContext)
		command.Execute(chCtx)
		chCtx.SetContext(outerCtx)

		if err, failed := chCtx.GetErrors()[command.GetName()]; failed {
			commandSpan.RecordError(err)
			commandSpan.SetStatus(codes.Error, "command failed")
		} else {
			commandSpan.SetStatus(codes.Ok, "command completed")
		}
		commandSpan.End()

		out := chCtx.Get(CtxOut)
		chCtx.Remove(CtxIn)
		if out != nil {
			chCtx.Add(CtxIn, out)
		}
		chCtx.Remove(CtxOut)
	}

	chCtx.SetContext(parentCtx)
	if chCtx.HasErrors() {
		chainSpan.SetStatus(codes.Error, "chain failed")
	} else {
		chainSpan.SetStatus(codes.Ok, "chain completed")
	}
}
