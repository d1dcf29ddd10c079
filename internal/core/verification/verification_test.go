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

package verification_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/verification"
)

type tmdbStub struct {
	hits   atomic.Int32
	status int
	routes map[string]func(r *http.Request) string
}

func newTMDbStub(t *testing.T, routes map[string]func(r *http.Request) string) (*tmdbStub, *httptest.Server) {
	stub := &tmdbStub{status: http.StatusOK, routes: routes}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.hits.Add(1)
		if stub.status != http.StatusOK {
			w.WriteHeader(stub.status)
			return
		}
		route, ok := stub.routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(route(r)))
	}))
	t.Cleanup(srv.Close)
	return stub, srv
}

func newClient(srv *httptest.Server, cfg verification.TMDbConfig) *verification.TMDbClient {
	cfg.BaseURL = srv.URL
	return verification.NewTMDbClient(cfg, srv.Client())
}

var badBoysRoutes = map[string]func(r *http.Request) string{
	"/search/movie": func(r *http.Request) string {
		if r.URL.Query().Get("year") == "1995" {
			return `{"results":[{"id":9737,"title":"Bad Boys","release_date":"1995-04-07","overview":"Two Miami cops."}]}`
		}
		if r.URL.Query().Get("year") != "" {
			return `{"results":[]}`
		}
		return `{"results":[
			{"id":8961,"title":"Bad Boys II","release_date":"2003-07-18","overview":"Sequel."},
			{"id":9737,"title":"Bad Boys","release_date":"1995-04-07","overview":"Two Miami cops."}]}`
	},
	"/movie/9737/credits": func(*http.Request) string {
		return `{"crew":[{"job":"Producer","name":"Jerry Bruckheimer"},{"job":"Director","name":"Michael Bay"}]}`
	},
	"/movie/8961/credits": func(*http.Request) string {
		return `{"crew":[{"job":"Director","name":"Michael Bay"}]}`
	},
}

func TestTMDbFindExactWithYear(t *testing.T) {
	_, srv := newTMDbStub(t, badBoysRoutes)
	c := newClient(srv, verification.TMDbConfig{APIKey: "k"})

	got, err := c.FindExact(context.Background(), model.EntityMovie, "bad-boys-1995")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "9737", got.ExternalID)
	assert.Equal(t, 1995, got.Year)
	assert.Equal(t, "Michael Bay", got.Director)
}

func TestTMDbSearchWithoutYearIsAmbiguous(t *testing.T) {
	_, srv := newTMDbStub(t, badBoysRoutes)
	c := newClient(srv, verification.TMDbConfig{})

	found, err := c.Search(context.Background(), model.EntityMovie, "bad-boys", 5)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Bad Boys II", found[0].Title)

	exact, err := c.FindExact(context.Background(), model.EntityMovie, "bad-boys")
	require.NoError(t, err)
	assert.Nil(t, exact)
}

func TestTMDbYearFallbackPrefersMatchingYear(t *testing.T) {
	routes := map[string]func(r *http.Request) string{
		"/search/movie": func(r *http.Request) string {
			if r.URL.Query().Get("year") != "" {
				return `{"results":[]}`
			}
			return `{"results":[
				{"id":1,"title":"Heat","release_date":"1986-03-14"},
				{"id":2,"title":"Heat","release_date":"1995-12-15"}]}`
		},
	}
	_, srv := newTMDbStub(t, routes)
	c := newClient(srv, verification.TMDbConfig{DetailLookups: -1})

	found, err := c.Search(context.Background(), model.EntityMovie, "heat-1995", 5)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, 1995, found[0].Year)
}

func TestTMDbCachesResultsIncludingEmpty(t *testing.T) {
	routes := map[string]func(r *http.Request) string{
		"/search/movie": func(*http.Request) string { return `{"results":[]}` },
	}
	stub, srv := newTMDbStub(t, routes)
	c := newClient(srv, verification.TMDbConfig{})

	for i := 0; i < 3; i++ {
		found, err := c.Search(context.Background(), model.EntityMovie, "no-such-film", 5)
		require.NoError(t, err)
		assert.Empty(t, found)
	}
	assert.Equal(t, int32(1), stub.hits.Load())
}

func TestTMDbFailuresOpenTheBreaker(t *testing.T) {
	stub, srv := newTMDbStub(t, nil)
	stub.status = http.StatusBadGateway
	c := newClient(srv, verification.TMDbConfig{BreakerFailures: 2, DetailLookups: -1})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Search(ctx, model.EntityMovie, "anything", 5)
		assert.ErrorIs(t, err, model.ErrProviderUnavailable)
	}
	assert.Equal(t, "open", c.BreakerState())

	_, err := c.Search(ctx, model.EntityMovie, "anything", 5)
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
	assert.Equal(t, int32(2), stub.hits.Load())
}

func TestTMDbSplitsScriptedAndUnscriptedTV(t *testing.T) {
	routes := map[string]func(r *http.Request) string{
		"/search/tv": func(*http.Request) string {
			return `{"results":[
				{"id":1,"name":"The Office","first_air_date":"2005-03-24","genre_ids":[35]},
				{"id":2,"name":"The Office Talk","first_air_date":"2020-01-01","genre_ids":[10767]}]}`
		},
	}
	_, srv := newTMDbStub(t, routes)
	c := newClient(srv, verification.TMDbConfig{})

	series, err := c.Search(context.Background(), model.EntityTvSeries, "the-office", 5)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "The Office", series[0].Title)

	shows, err := c.Search(context.Background(), model.EntityTvShow, "the-office", 5)
	require.NoError(t, err)
	require.Len(t, shows, 1)
	assert.Equal(t, "The Office Talk", shows[0].Title)
}

func TestTMDbPersonDetails(t *testing.T) {
	routes := map[string]func(r *http.Request) string{
		"/search/person": func(*http.Request) string {
			return `{"results":[{"id":6384,"name":"Keanu Reeves","known_for":[{"title":"The Matrix"}]}]}`
		},
		"/person/6384": func(*http.Request) string {
			return `{"biography":"Keanu Charles Reeves is a Canadian actor.","birthday":"1964-09-02"}`
		},
	}
	_, srv := newTMDbStub(t, routes)
	c := newClient(srv, verification.TMDbConfig{})

	got, err := c.FindExact(context.Background(), model.EntityPerson, "keanu-reeves-1964")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1964, got.Year)
	assert.Contains(t, got.Overview, "Canadian actor")
}

func TestTMDbAuthentication(t *testing.T) {
	var query, auth string
	routes := map[string]func(r *http.Request) string{
		"/search/movie": func(r *http.Request) string {
			query, auth = r.URL.Query().Get("api_key"), r.Header.Get("Authorization")
			return `{"results":[]}`
		},
	}
	_, srv := newTMDbStub(t, routes)

	_, err := newClient(srv, verification.TMDbConfig{APIKey: "v3key"}).Search(context.Background(), model.EntityMovie, "a-film", 5)
	require.NoError(t, err)
	assert.Equal(t, "v3key", query)
	assert.Empty(t, auth)

	_, err = newClient(srv, verification.TMDbConfig{APIKey: "aaa.bbb.ccc"}).Search(context.Background(), model.EntityMovie, "b-film", 5)
	require.NoError(t, err)
	assert.Empty(t, query)
	assert.Equal(t, "Bearer aaa.bbb.ccc", auth)
}

func TestFake(t *testing.T) {
	f := verification.NewFake(verification.DefaultFixtures())
	ctx := context.Background()

	found, err := f.Search(ctx, model.EntityMovie, "bad-boys", 5)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	exact, err := f.FindExact(ctx, model.EntityMovie, "bad-boys-ii-2003")
	require.NoError(t, err)
	require.NotNil(t, exact)
	assert.Equal(t, "8961", exact.ExternalID)

	exact, err = f.FindExact(ctx, model.EntityMovie, "the-matrix-1999-lana-wachowski")
	require.NoError(t, err)
	require.NotNil(t, exact)
	assert.Equal(t, "603", exact.ExternalID)

	f.FailWith(model.ErrProviderUnavailable)
	_, err = f.Search(ctx, model.EntityMovie, "bad-boys", 5)
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
}
