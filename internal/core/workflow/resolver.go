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

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/confidence"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/disambiguation"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/services"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/verification"
)

// selectionSearchLimit is how many provider candidates a selection is
// matched against.
const selectionSearchLimit = 10

// Outcome is what a GET on an entity slug resolved to.
type Outcome string

const (
	OutcomeFound     Outcome = "FOUND"
	OutcomeQueued    Outcome = "QUEUED"
	OutcomeAmbiguous Outcome = "AMBIGUOUS"
)

// Resolution is the answer to a GET on an entity slug.
type Resolution struct {
	Outcome   Outcome
	Requested string

	// Found
	Lookup *services.Lookup

	// Queued
	Job        model.Job
	Reused     bool
	Confidence model.Confidence

	// Ambiguous
	Options []disambiguation.Option
}

// YearMismatchError reports a single provider match whose year differs from
// the one the slug asked for. It unwraps to model.ErrNotFound.
type YearMismatchError struct {
	EntityType    model.EntityType
	Requested     string
	Title         string
	Year          int
	RequestedYear int
}

func (e *YearMismatchError) Error() string {
	return fmt.Sprintf("No %s found matching '%s'. Found '%s' (%d) but requested year was %d.",
		e.EntityType.Label(), e.Requested, e.Title, e.Year, e.RequestedYear)
}

func (e *YearMismatchError) Unwrap() error { return model.ErrNotFound }

// Resolver answers GET requests for entity slugs: local catalogue first, then
// provider verification, disambiguation and a queued generation job.
type Resolver struct {
	retrieval     *services.RetrievalService
	verifier      verification.Verifier
	disambiguator *disambiguation.Disambiguator
	confidence    *confidence.Validator
	orchestrator  *Orchestrator
	features      model.Features
	searchLimit   int
}

// NewResolver wires a resolver. verifier may be nil, which behaves like the
// tmdb_verification flag being off.
func NewResolver(
	retrieval *services.RetrievalService,
	verifier verification.Verifier,
	disambiguator *disambiguation.Disambiguator,
	scorer *confidence.Validator,
	orchestrator *Orchestrator,
	features model.Features,
	searchLimit int) *Resolver {

	if searchLimit <= 0 {
		searchLimit = verification.DefaultSearchLimit
	}
	return &Resolver{
		retrieval:     retrieval,
		verifier:      verifier,
		disambiguator: disambiguator,
		confidence:    scorer,
		orchestrator:  orchestrator,
		features:      features,
		searchLimit:   searchLimit,
	}
}

func (r *Resolver) verifying() bool {
	return r.features.TMDbVerification && r.verifier != nil
}

// Resolve handles a GET on a validated slug.
//
// Logic Flow:
//  1. A local hit is returned as found.
//  2. With generation disabled for the type, a miss is a plain not found.
//  3. The slug is scored; the hallucination guard can reject it here.
//  4. Without verification the job is queued for the requested slug.
//  5. With verification an exact provider match is queued with its snapshot
//     under the derived slug. Otherwise the provider search decides: none is
//     not found, several are ambiguous, one is queued unless its year
//     contradicts the slug.
//
// Inputs:
//   - ctx: The request context.
//   - t: The entity type.
//   - requested: The validated slug.
//   - locale: Locale for the description and for a queued job.
//   - descriptionID: Optional description pin for local hits.
//
// Outputs:
//   - *Resolution: Found, queued or ambiguous.
//   - error: model.ErrNotFound (possibly a *YearMismatchError),
//     services.ErrDescriptionNotFound, model.ErrValidation from the guard,
//     model.ErrProviderUnavailable, or ErrDispatch.
func (r *Resolver) Resolve(ctx context.Context, t model.EntityType, requested string, locale model.Locale, descriptionID string) (*Resolution, error) {
	out := &Resolution{Requested: requested}

	lookup, err := r.retrieval.Find(ctx, t, requested, locale, descriptionID)
	switch {
	case err == nil:
		out.Outcome, out.Lookup = OutcomeFound, lookup
		return out, nil
	case !errors.Is(err, model.ErrNotFound) || errors.Is(err, services.ErrDescriptionNotFound):
		return nil, err
	}

	if !r.features.GenerationEnabled(t) {
		return nil, fmt.Errorf("%w: %s %q", model.ErrNotFound, t.Label(), requested)
	}

	conf := r.confidence.Score(requested, t)
	if err := confidence.Guard(conf, r.features); err != nil {
		return nil, err
	}
	req := model.GenerationRequest{EntityType: t, Slug: requested, Locale: locale, Confidence: conf}

	if !r.verifying() {
		return r.queue(ctx, out, req)
	}

	exact, err := r.verifier.FindExact(ctx, t, requested)
	if err != nil {
		return nil, err
	}
	if exact != nil {
		return r.queueCandidate(ctx, out, req, *exact, locale, descriptionID)
	}

	candidates, err := r.verifier.Search(ctx, t, requested, r.searchLimit)
	if err != nil {
		return nil, err
	}
	res := r.disambiguator.Resolve(t, requested, candidates)
	switch res.Outcome {
	case disambiguation.None:
		return nil, fmt.Errorf("%w: %s %q is unknown to %s", model.ErrNotFound, t.Label(), requested, r.verifier.Name())
	case disambiguation.Ambiguous:
		slog.InfoContext(ctx, "ambiguous slug", "slug", requested, "candidates", len(res.Options))
		out.Outcome, out.Options = OutcomeAmbiguous, res.Options
		return out, nil
	}

	c := *res.Candidate
	if year, mismatch := disambiguation.YearMismatch(requested, c); mismatch {
		return nil, &YearMismatchError{EntityType: t, Requested: requested, Title: c.Title, Year: c.Year, RequestedYear: year}
	}
	return r.queueCandidate(ctx, out, req, c, locale, descriptionID)
}

// Select handles a disambiguation selection: GET /<collection>/<requested>?slug=<selected>.
// A selected entity that already exists locally is returned; otherwise the
// selection must be one of the provider candidates for requested, and is
// queued with that candidate as its snapshot. There is no fallback to
// another candidate.
func (r *Resolver) Select(ctx context.Context, t model.EntityType, requested, selected string, locale model.Locale) (*Resolution, error) {
	out := &Resolution{Requested: requested}

	lookup, err := r.retrieval.Find(ctx, t, selected, locale, "")
	switch {
	case err == nil:
		out.Outcome, out.Lookup = OutcomeFound, lookup
		return out, nil
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	if !r.features.GenerationEnabled(t) {
		return nil, fmt.Errorf("%w: %s %q", model.ErrNotFound, t.Label(), selected)
	}
	if r.verifier == nil {
		return nil, fmt.Errorf("%w: no verification provider", model.ErrSelectionNotFound)
	}

	candidates, err := r.verifier.Search(ctx, t, requested, selectionSearchLimit)
	if err != nil {
		return nil, err
	}
	c, derived, err := r.disambiguator.Select(candidates, selected)
	if err != nil {
		return nil, err
	}
	req := model.GenerationRequest{
		EntityType:    t,
		Slug:          derived,
		RequestedSlug: requested,
		Locale:        locale,
		Confidence:    r.confidence.Score(derived, t),
		Snapshot:      &c,
	}
	return r.queue(ctx, out, req)
}

// queueCandidate queues a verified candidate under its derived slug, unless
// that slug already exists locally.
func (r *Resolver) queueCandidate(ctx context.Context, out *Resolution, req model.GenerationRequest, c model.Candidate, locale model.Locale, descriptionID string) (*Resolution, error) {
	derived := slug.DeriveCandidate(c, nil)
	if derived != req.Slug {
		lookup, err := r.retrieval.Find(ctx, req.EntityType, derived, locale, descriptionID)
		switch {
		case err == nil:
			out.Outcome, out.Lookup = OutcomeFound, lookup
			return out, nil
		case !errors.Is(err, model.ErrNotFound) || errors.Is(err, services.ErrDescriptionNotFound):
			return nil, err
		}
		req.RequestedSlug = req.Slug
		req.Slug = derived
	}
	req.Snapshot = &c
	return r.queue(ctx, out, req)
}

func (r *Resolver) queue(ctx context.Context, out *Resolution, req model.GenerationRequest) (*Resolution, error) {
	job, reused, err := r.orchestrator.RequestGeneration(ctx, req)
	out.Job, out.Reused, out.Confidence = job, reused, req.Confidence
	if err != nil {
		return out, err
	}
	out.Outcome = OutcomeQueued
	return out, nil
}
