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

// Package test provides helpers shared by the test suites: loading the test
// configuration, a telemetry-bridged logger and sample payloads.
package test

import (
	"errors"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/jaycherian/gcp-go-media-metadata/internal/cloud"
)

// StateManager caches the test configuration for the whole run.
type StateManager struct {
	once   sync.Once
	config *cloud.Config
}

var state = &StateManager{}

// HandleErr fails the test immediately when err is not nil.
func HandleErr(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Logger returns a logger bridged to the OpenTelemetry log pipeline, named
// after the test.
func Logger(t *testing.T) *slog.Logger {
	return otelslog.NewLogger(t.Name())
}

// GenerationTaskMessage is a Pub/Sub payload for a movie generation task
// carrying a verified snapshot.
func GenerationTaskMessage(jobID string) string {
	return `{
  "job_id": "` + jobID + `",
  "entity_type": "MOVIE",
  "slug": "the-matrix-1999",
  "locale": "en-US",
  "context_tag": "DEFAULT",
  "snapshot": {
    "external_id": "603",
    "title": "The Matrix",
    "year": 1999,
    "director": "Lana Wachowski",
    "overview": "A computer hacker learns from mysterious rebels about the true nature of his reality and his role in the war against its controllers."
  }
}`
}

// configDir finds the repository's configs directory by walking up from
// the working directory; go test runs inside the package directory.
func configDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, "configs")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("configs directory not found")
		}
		dir = parent
	}
}

// SetupOS points the configuration loader at configs/.env.toml and
// configs/.env.test.toml.
func SetupOS() error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.Setenv(cloud.EnvConfigFilePrefix, dir); err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// GetConfig loads the test configuration once and returns it. Callers must
// not modify the result; use Clone for a private copy.
func GetConfig() *cloud.Config {
	state.once.Do(func() {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup environment for test: %v\n", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			log.Fatalf("failed to load test configuration: %v\n", err)
		}
		state.config = config
	})
	return state.config
}

// Clone returns a shallow copy of the test configuration that a test may
// adjust.
func Clone() *cloud.Config {
	c := *GetConfig()
	return &c
}
