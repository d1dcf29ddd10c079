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

package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/confidence"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/disambiguation"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/jobs"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/services"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/verification"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/workflow"
)

type resolverFixture struct {
	resolver   *workflow.Resolver
	verifier   *verification.Fake
	dispatcher *recordingDispatcher
}

func newResolver(t *testing.T, features model.Features) resolverFixture {
	t.Helper()
	repo := services.NewMemoryRepository()
	_, err := services.Seed(context.Background(), repo, services.SeedEntities())
	require.NoError(t, err)

	f := resolverFixture{
		verifier:   verification.NewFake(verification.DefaultFixtures()),
		dispatcher: &recordingDispatcher{},
	}
	orchestrator := workflow.NewOrchestrator(jobs.NewMemoryStore(time.Minute), f.dispatcher, features, nil)
	f.resolver = workflow.NewResolver(
		services.NewRetrievalService(repo),
		f.verifier,
		disambiguation.New("http://localhost:8080"),
		confidence.New(confidence.DefaultThresholds()),
		orchestrator,
		features,
		0)
	return f
}

func TestResolveLocalHit(t *testing.T) {
	f := newResolver(t, allOn)
	res, err := f.resolver.Resolve(context.Background(), model.EntityMovie, "inception-2010", model.LocaleEnUS, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeFound, res.Outcome)
	assert.Equal(t, "Inception", res.Lookup.View.Entity.Title)
	assert.Zero(t, f.verifier.Calls())
}

func TestResolveAmbiguousThenSelect(t *testing.T) {
	f := newResolver(t, allOn)

	res, err := f.resolver.Resolve(context.Background(), model.EntityMovie, "bad-boys", model.LocaleEnUS, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeAmbiguous, res.Outcome)
	require.Len(t, res.Options, 2)
	assert.Equal(t, "bad-boys-1995", res.Options[0].Slug)
	assert.Equal(t, "bad-boys-ii-2003", res.Options[1].Slug)
	assert.Equal(t, "http://localhost:8080/api/v1/movies/bad-boys?slug=bad-boys-ii-2003", res.Options[1].SelectURL)
	assert.Empty(t, f.dispatcher.tasks)

	res, err = f.resolver.Select(context.Background(), model.EntityMovie, "bad-boys", "bad-boys-ii-2003", model.LocaleEnUS)
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeQueued, res.Outcome)
	assert.Equal(t, "bad-boys-ii-2003", res.Job.Slug)
	require.Len(t, f.dispatcher.tasks, 1)
	assert.Equal(t, "8961", f.dispatcher.tasks[0].Snapshot.ExternalID)

	_, err = f.resolver.Select(context.Background(), model.EntityMovie, "bad-boys", "bad-boys-1990", model.LocaleEnUS)
	assert.ErrorIs(t, err, model.ErrSelectionNotFound)
}

func TestResolveQueuesVerifiedCandidate(t *testing.T) {
	f := newResolver(t, allOn)

	res, err := f.resolver.Resolve(context.Background(), model.EntityMovie, "the-matrix-1999", model.LocalePlPL, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeQueued, res.Outcome)
	assert.False(t, res.Reused)
	assert.Equal(t, model.ConfidenceHigh, res.Confidence.Level)
	require.Len(t, f.dispatcher.tasks, 1)
	assert.Equal(t, model.LocalePlPL, f.dispatcher.tasks[0].Locale)
	assert.Equal(t, "603", f.dispatcher.tasks[0].Snapshot.ExternalID)

	again, err := f.resolver.Resolve(context.Background(), model.EntityMovie, "the-matrix-1999", model.LocalePlPL, "")
	require.NoError(t, err)
	assert.True(t, again.Reused)
	assert.Equal(t, res.Job.ID, again.Job.ID)
}

func TestResolveYearlessSlugUsesDerivedSlug(t *testing.T) {
	f := newResolver(t, allOn)

	res, err := f.resolver.Resolve(context.Background(), model.EntityMovie, "blade-runner", model.LocaleEnUS, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeQueued, res.Outcome)
	assert.Equal(t, "blade-runner-1982", res.Job.Slug)
	assert.Equal(t, "blade-runner", res.Job.RequestedSlug)
}

func TestResolveYearMismatch(t *testing.T) {
	f := newResolver(t, allOn)

	_, err := f.resolver.Resolve(context.Background(), model.EntityMovie, "blade-runner-1990", model.LocaleEnUS, "")
	require.ErrorIs(t, err, model.ErrNotFound)
	var mismatch *workflow.YearMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "No movie found matching 'blade-runner-1990'. Found 'Blade Runner' (1982) but requested year was 1990.", err.Error())
}

func TestResolveFailures(t *testing.T) {
	f := newResolver(t, allOn)

	_, err := f.resolver.Resolve(context.Background(), model.EntityMovie, "quiet-harbor-2001", model.LocaleEnUS, "")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.resolver.Resolve(context.Background(), model.EntityMovie, "test-movie-123", model.LocaleEnUS, "")
	assert.ErrorIs(t, err, model.ErrValidation)

	f.verifier.FailWith(model.ErrProviderUnavailable)
	_, err = f.resolver.Resolve(context.Background(), model.EntityMovie, "the-matrix-1999", model.LocaleEnUS, "")
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
	assert.Empty(t, f.dispatcher.tasks)
}

func TestResolveWithoutVerificationQueuesRequestedSlug(t *testing.T) {
	features := allOn
	features.TMDbVerification = false
	f := newResolver(t, features)

	res, err := f.resolver.Resolve(context.Background(), model.EntityMovie, "quiet-harbor-2001", model.LocaleEnUS, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeQueued, res.Outcome)
	require.Len(t, f.dispatcher.tasks, 1)
	assert.Nil(t, f.dispatcher.tasks[0].Snapshot)
	assert.Zero(t, f.verifier.Calls())
}

func TestResolveWithGenerationDisabled(t *testing.T) {
	f := newResolver(t, model.Features{})
	_, err := f.resolver.Resolve(context.Background(), model.EntityMovie, "the-matrix-1999", model.LocaleEnUS, "")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Zero(t, f.verifier.Calls())
}
