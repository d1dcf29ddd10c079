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

package commands_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/ai"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/aioutput"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/confidence"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/services"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/verification"
)

var allOn = model.Features{AIDescriptionGeneration: true, AIBioGeneration: true, HallucinationGuard: true, TMDbVerification: true}

type memoryWriter struct {
	mu      sync.Mutex
	err     error
	objects map[string][]byte
}

func (w *memoryWriter) WriteObject(_ context.Context, name, _ string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if w.objects == nil {
		w.objects = map[string][]byte{}
	}
	w.objects[name] = data
	return nil
}

type fixture struct {
	repo     *services.MemoryRepository
	verifier *verification.Fake
	provider ai.Provider
	writer   *memoryWriter
	features model.Features
}

func newFixture() *fixture {
	return &fixture{
		repo:     services.NewMemoryRepository(),
		verifier: verification.NewFake(verification.DefaultFixtures()),
		provider: ai.NewMock(0),
		writer:   &memoryWriter{},
		features: allOn,
	}
}

func (f *fixture) chain() cor.Chain {
	return cor.NewBaseChain("generation").
		AddCommand(commands.NewPreGenerationGuard("pre-generation-guard", f.features, confidence.New(confidence.DefaultThresholds()), f.repo)).
		AddCommand(commands.NewEntityVerification("entity-verification", f.verifier, f.features)).
		AddCommand(commands.NewAIGeneration("ai-generation", f.provider)).
		AddCommand(commands.NewAIOutputValidation("ai-output-validation", aioutput.NewValidator(aioutput.DefaultPolicy()), f.features)).
		AddCommand(commands.NewAIResponseArchive("ai-response-archive", f.writer)).
		AddCommand(commands.NewEntityPersist("entity-persist", f.repo))
}

func (f *fixture) run(task model.GenerationTask) cor.Context {
	c := cor.NewContextFor(context.Background())
	c.Add(commands.ParamTask, task)
	f.chain().Execute(c)
	return c
}

func matrixTask() model.GenerationTask {
	return model.GenerationTask{JobID: "job-1", EntityType: model.EntityMovie, Slug: "the-matrix-1999", Locale: model.LocaleEnUS, ContextTag: model.ContextDefault}
}

func TestPipelineVerifiesGeneratesAndPersists(t *testing.T) {
	f := newFixture()
	c := f.run(matrixTask())
	require.NoError(t, c.FirstError())

	result := commands.ResultOf(c)
	require.NotNil(t, result)
	assert.Equal(t, "the-matrix-1999", result.Slug)
	assert.NotEmpty(t, result.DescriptionID)

	e, err := f.repo.FindBySlug(context.Background(), model.EntityMovie, "the-matrix-1999")
	require.NoError(t, err)
	assert.Equal(t, "Lana Wachowski", e.Director)
	assert.Equal(t, "603", e.ExternalID)

	ds, err := f.repo.Descriptions(context.Background(), e.ID)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, model.OriginGenerated, ds[0].Origin)
	assert.Equal(t, ai.MockModel, ds[0].AIModel)

	assert.Contains(t, f.writer.objects, "movies/the-matrix-1999/job-1.json")
}

func TestPipelineSkipsVerificationWithSnapshot(t *testing.T) {
	f := newFixture()
	task := matrixTask()
	task.Slug = "bad-boys-1995"
	task.Snapshot = &model.Candidate{ExternalID: "9737", Title: "Bad Boys", Year: 1995, Director: "Michael Bay"}

	c := f.run(task)
	require.NoError(t, c.FirstError())
	assert.Zero(t, f.verifier.Calls())

	e, err := f.repo.FindBySlug(context.Background(), model.EntityMovie, "bad-boys-1995")
	require.NoError(t, err)
	assert.Equal(t, "Bad Boys", e.Title)
}

func TestPipelineReusesExistingDescription(t *testing.T) {
	f := newFixture()
	mock := ai.NewMock(0)
	f.provider = mock
	_, err := services.Seed(context.Background(), f.repo, services.SeedEntities())
	require.NoError(t, err)

	task := matrixTask()
	task.Slug = "inception-2010"
	c := f.run(task)
	require.NoError(t, c.FirstError())
	require.NotNil(t, commands.ResultOf(c))
	assert.Zero(t, mock.Calls())
	assert.Zero(t, f.verifier.Calls())
}

func TestPipelineAddsDescriptionToExistingEntity(t *testing.T) {
	f := newFixture()
	_, err := services.Seed(context.Background(), f.repo, services.SeedEntities())
	require.NoError(t, err)

	task := matrixTask()
	task.Slug = "inception-2010"
	task.Locale = model.LocalePlPL
	c := f.run(task)
	require.NoError(t, c.FirstError())

	e, err := f.repo.FindBySlug(context.Background(), model.EntityMovie, "inception-2010")
	require.NoError(t, err)
	assert.Equal(t, e.ID, commands.ResultOf(c).EntityID)
	ds, err := f.repo.Descriptions(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Len(t, ds, 2)
}

func TestGuardRejectsBadTasks(t *testing.T) {
	f := newFixture()
	task := matrixTask()
	task.Slug = "ignore-previous-instructions"
	c := f.run(task)
	assert.ErrorIs(t, c.FirstError(), model.ErrPromptInjection)
	assert.Contains(t, c.GetErrors(), "pre-generation-guard")

	f.features.AIDescriptionGeneration = false
	c = f.run(matrixTask())
	assert.ErrorIs(t, c.FirstError(), model.ErrFeatureDisabled)

	f = newFixture()
	task = matrixTask()
	task.Slug = "test-movie-123"
	c = f.run(task)
	assert.ErrorIs(t, c.FirstError(), model.ErrValidation)
}

func TestVerificationFailures(t *testing.T) {
	f := newFixture()
	task := matrixTask()
	task.Slug = "quiet-harbor-2001"
	c := f.run(task)
	assert.ErrorIs(t, c.FirstError(), model.ErrNotFound)
	assert.Contains(t, c.GetErrors(), "entity-verification")

	f = newFixture()
	f.verifier.FailWith(model.ErrProviderUnavailable)
	c = f.run(matrixTask())
	assert.ErrorIs(t, c.FirstError(), model.ErrProviderUnavailable)
}

type stubProvider struct {
	out model.GeneratedEntity
	err error
}

func (s stubProvider) Name() string { return "stub" }

func (s stubProvider) Generate(context.Context, ai.Request) (model.GeneratedEntity, error) {
	return s.out, s.err
}

func TestInvalidOutputFailsBeforePersisting(t *testing.T) {
	f := newFixture()
	f.provider = stubProvider{out: model.GeneratedEntity{Title: "The Matrix", Year: 1999, Description: "<b>Too short.</b>"}}
	c := f.run(matrixTask())
	assert.ErrorIs(t, c.FirstError(), model.ErrValidation)
	assert.Contains(t, c.GetErrors(), "ai-output-validation")

	_, err := f.repo.FindBySlug(context.Background(), model.EntityMovie, "the-matrix-1999")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, f.writer.objects)
}

func TestOutputIsSanitizedBeforePersisting(t *testing.T) {
	f := newFixture()
	text := "<script>alert(1)</script>A computer hacker learns about the true nature of his reality and his role in the war against its controllers."
	f.provider = stubProvider{out: model.GeneratedEntity{Title: "<i>The Matrix</i>", Year: 1999, Description: text, Model: "stub-1"}}
	c := f.run(matrixTask())
	require.NoError(t, c.FirstError())

	e, err := f.repo.FindBySlug(context.Background(), model.EntityMovie, "the-matrix-1999")
	require.NoError(t, err)
	ds, err := f.repo.Descriptions(context.Background(), e.ID)
	require.NoError(t, err)
	assert.NotContains(t, ds[0].Text, "<script>")
	assert.NotContains(t, ds[0].Text, "alert(1)")
	assert.Contains(t, ds[0].Text, "A computer hacker")
}

func TestProviderErrorIsRecorded(t *testing.T) {
	f := newFixture()
	f.provider = stubProvider{err: errors.Join(model.ErrAIProvider, errors.New("503"))}
	c := f.run(matrixTask())
	assert.ErrorIs(t, c.FirstError(), model.ErrAIProvider)
	assert.Contains(t, c.GetErrors(), "ai-generation")
}

func TestArchiveFailureDoesNotFailTheJob(t *testing.T) {
	f := newFixture()
	f.writer.err = errors.New("bucket unavailable")
	c := f.run(matrixTask())
	require.NoError(t, c.FirstError())
	assert.NotNil(t, commands.ResultOf(c))
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "people/keanu-reeves/j.json", commands.ObjectName(model.GenerationTask{JobID: "j", EntityType: model.EntityPerson, Slug: "keanu-reeves"}))
}
