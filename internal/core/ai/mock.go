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

package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
)

// MockModel is the model name recorded on mock output.
const MockModel = "mock-ai-1"

// Mock is a deterministic provider for local runs and tests. Its output is
// built from the request alone and always passes boundary validation.
type Mock struct {
	mu    sync.Mutex
	delay time.Duration
	err   error
	calls int
}

// NewMock creates a mock that answers after delay.
func NewMock(delay time.Duration) *Mock {
	return &Mock{delay: delay}
}

// FailWith makes every following call return err. nil restores success.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of Generate calls.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Mock) Name() string { return "mock:" + MockModel }

func (m *Mock) Generate(ctx context.Context, req Request) (model.GeneratedEntity, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return model.GeneratedEntity{}, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	if err != nil {
		return model.GeneratedEntity{}, err
	}

	parts := slug.Parse(req.Slug)
	out := model.GeneratedEntity{
		Title:    titleCase(slug.TitleQuery(parts.TitleSlug)),
		Year:     parts.Year,
		Director: "Mock AI Director",
		Genres:   []string{"Sci-Fi", "Action"},
		Model:    MockModel,
	}
	if req.Snapshot != nil {
		out.Title = req.Snapshot.Title
		out.Year = req.Snapshot.Year
		if req.Snapshot.Director != "" {
			out.Director = req.Snapshot.Director
		}
	}
	if req.EntityType.IsPerson() {
		out.Director = ""
		out.Genres = nil
		out.Description = fmt.Sprintf("%s is a performer whose career spans film and television. This biography was produced by the mock generator in %s.", out.Title, model.LocaleOrDefault(string(req.Locale)).Language())
	} else {
		out.Description = fmt.Sprintf("Generated description for %s, a %s told in %s. This text was produced by the mock generator in %s.", out.Title, req.EntityType.Label(), req.ContextTag.Style(), model.LocaleOrDefault(string(req.Locale)).Language())
	}
	out.Raw = fmt.Sprintf(`{"title":%q,"release_year":%d,"description":%q}`, out.Title, out.Year, out.Description)
	return out, nil
}

func titleCase(in string) string {
	words := strings.Fields(in)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
