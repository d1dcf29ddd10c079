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

// Package ratelimit implements the request limits that sit in front of the
// API: an adaptive per-class limiter whose ceilings shrink as the service gets
// busier, and plan-based quotas for API keys.
package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Class groups endpoints that share a limit.
type Class string

const (
	ClassSearch   Class = "search"
	ClassShow     Class = "show"
	ClassBulk     Class = "bulk"
	ClassGenerate Class = "generate"
	ClassReport   Class = "report"
)

// Classes lists every class in a stable order.
var Classes = []Class{ClassSearch, ClassShow, ClassBulk, ClassGenerate, ClassReport}

// Policy is the per-window ceiling of a class under no load (Default) and
// the floor it never drops below (Min).
type Policy struct {
	Default int `toml:"default"`
	Min     int `toml:"min"`
}

// DefaultPolicies returns the stock per-minute policies.
func DefaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassSearch:   {Default: 100, Min: 20},
		ClassShow:     {Default: 120, Min: 30},
		ClassBulk:     {Default: 30, Min: 5},
		ClassGenerate: {Default: 10, Min: 2},
		ClassReport:   {Default: 20, Min: 5},
	}
}

// Config configures the adaptive limiter.
type Config struct {
	WindowSeconds int              `toml:"window_seconds"`
	Policies      map[Class]Policy `toml:"classes"`
}

// Window returns the window length, one minute when unset.
func (c Config) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// policies merges the configured policies over the defaults and checks them.
func (c Config) policies() (map[Class]Policy, error) {
	out := DefaultPolicies()
	for class, p := range c.Policies {
		class = Class(strings.ToLower(string(class)))
		if _, ok := out[class]; !ok {
			return nil, fmt.Errorf("unknown rate limit class %q", class)
		}
		if p.Default <= 0 || p.Min <= 0 || p.Min > p.Default {
			return nil, fmt.Errorf("rate limit class %s: need 0 < min <= default, got min=%d default=%d", class, p.Min, p.Default)
		}
		out[class] = p
	}
	return out, nil
}

// Decision is the outcome of counting one request against a limit.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}
