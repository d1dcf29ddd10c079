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

package verification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/slug"
)

// TMDbConfig configures the TMDb client. APIKey is normally supplied through
// the TMDB_API_KEY environment variable.
type TMDbConfig struct {
	BaseURL         string `toml:"base_url"`
	APIKey          string `toml:"api_key"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	CacheSize       int    `toml:"cache_size"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
	// RequestsPer10s follows TMDb's published limit of 40 requests per 10s.
	RequestsPer10s int `toml:"requests_per_10s"`
	// DetailLookups is how many top results get a second call for the
	// director (movies) or biography and birthday (people).
	DetailLookups int `toml:"detail_lookups"`
	// BreakerFailures is the run of consecutive failures that opens the breaker.
	BreakerFailures       int `toml:"breaker_failures"`
	BreakerTimeoutSeconds int `toml:"breaker_timeout_seconds"`
}

func (c *TMDbConfig) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.themoviedb.org/3"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 2000
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = 24 * 60 * 60
	}
	if c.RequestsPer10s <= 0 {
		c.RequestsPer10s = 40
	}
	if c.DetailLookups < 0 {
		c.DetailLookups = 0
	} else if c.DetailLookups == 0 {
		c.DetailLookups = DefaultSearchLimit
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeoutSeconds <= 0 {
		c.BreakerTimeoutSeconds = 30
	}
}

// Unscripted TMDb TV genres: Documentary, News, Reality, Talk.
var unscriptedGenres = []int{99, 10763, 10764, 10767}

// TMDbClient is a Verifier backed by The Movie Database API. Requests are
// throttled to TMDb's limit and pass through a circuit breaker; results,
// including empty ones, are cached.
type TMDbClient struct {
	cfg     TMDbConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	cache   *expirable.LRU[string, []model.Candidate]
	flight  singleflight.Group
}

// NewTMDbClient creates a TMDb client. Zero config fields take defaults.
func NewTMDbClient(cfg TMDbConfig, client *http.Client) *TMDbClient {
	cfg.setDefaults()
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}
	failures := uint32(cfg.BreakerFailures)
	return &TMDbClient{
		cfg:     cfg,
		http:    client,
		limiter: rate.NewLimiter(rate.Every(10*time.Second/time.Duration(cfg.RequestsPer10s)), cfg.RequestsPer10s),
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "tmdb",
			Timeout: time.Duration(cfg.BreakerTimeoutSeconds) * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, model.ErrNotFound)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		cache: expirable.NewLRU[string, []model.Candidate](cfg.CacheSize, nil, time.Duration(cfg.CacheTTLSeconds)*time.Second),
	}
}

func (c *TMDbClient) Name() string { return "tmdb" }

// BreakerState reports the circuit breaker state ("closed", "half-open", "open").
func (c *TMDbClient) BreakerState() string {
	return c.breaker.State().String()
}

func (c *TMDbClient) FindExact(ctx context.Context, t model.EntityType, s string) (*model.Candidate, error) {
	candidates, err := c.Search(ctx, t, s, DefaultSearchLimit)
	if err != nil {
		return nil, err
	}
	return exactMatch(s, candidates), nil
}

// Search queries TMDb for the slug's title.
//
// Inputs:
//   - ctx: Bounds rate-limiter waits and HTTP calls.
//   - t: Selects the movie, person or tv search; TV results are split into
//     scripted series and unscripted shows.
//   - s: A validated slug; its year, if any, filters the first query.
//   - limit: Maximum number of candidates.
//
// Outputs:
//   - []model.Candidate: Matches in provider order, same-year matches first.
//   - error: Wraps model.ErrProviderUnavailable on provider failures.
func (c *TMDbClient) Search(ctx context.Context, t model.EntityType, s string, limit int) ([]model.Candidate, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	parts := slug.Parse(s)
	key := fmt.Sprintf("%s:%s:%d:%d", t, parts.TitleSlug, parts.Year, limit)
	if cached, ok := c.cache.Get(key); ok {
		return slices.Clone(cached), nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		found, err := c.search(ctx, t, parts, limit)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, found)
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]model.Candidate)), nil
}

func (c *TMDbClient) search(ctx context.Context, t model.EntityType, parts slug.Parts, limit int) ([]model.Candidate, error) {
	query := slug.TitleQuery(parts.TitleSlug)

	var (
		found []model.Candidate
		err   error
	)
	if parts.HasYear() && !t.IsPerson() {
		found, err = c.query(ctx, t, query, parts.Year)
		if err != nil {
			return nil, err
		}
	}
	if len(found) == 0 {
		found, err = c.query(ctx, t, query, 0)
		if err != nil {
			return nil, err
		}
		found = yearFirst(found, parts.Year)
	}
	if len(found) > limit {
		found = found[:limit]
	}

	for i := range found[:min(len(found), c.cfg.DetailLookups)] {
		if err := c.enrich(ctx, t, &found[i]); err != nil {
			// Details only add the director or biography; the match stands without them.
			slog.DebugContext(ctx, "tmdb details lookup failed", "id", found[i].ExternalID, "error", err)
		}
	}
	if t.IsPerson() {
		found = yearFirst(found, parts.Year)
	}

	slog.InfoContext(ctx, "tmdb search", "entity_type", t, "query", query, "year", parts.Year, "count", len(found))
	return found, nil
}

type movieResult struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date"`
	Overview    string  `json:"overview"`
	Popularity  float64 `json:"popularity"`
}

type personResult struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Department string  `json:"known_for_department"`
	Popularity float64 `json:"popularity"`
	KnownFor   []struct {
		Title string `json:"title"`
		Name  string `json:"name"`
	} `json:"known_for"`
}

type tvResult struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	FirstAirDate string  `json:"first_air_date"`
	Overview     string  `json:"overview"`
	Popularity   float64 `json:"popularity"`
	GenreIDs     []int   `json:"genre_ids"`
}

type page[T any] struct {
	Results []T `json:"results"`
}

func (c *TMDbClient) query(ctx context.Context, t model.EntityType, text string, year int) ([]model.Candidate, error) {
	params := url.Values{"query": {text}, "include_adult": {"false"}}
	switch t {
	case model.EntityMovie:
		if year > 0 {
			params.Set("year", strconv.Itoa(year))
		}
		var p page[movieResult]
		if err := c.get(ctx, "/search/movie", params, &p); err != nil {
			return nil, err
		}
		out := make([]model.Candidate, 0, len(p.Results))
		for _, r := range p.Results {
			out = append(out, model.Candidate{
				ExternalID:  strconv.FormatInt(r.ID, 10),
				Title:       r.Title,
				Year:        yearOf(r.ReleaseDate),
				ReleaseDate: r.ReleaseDate,
				Overview:    r.Overview,
				Popularity:  r.Popularity,
			})
		}
		return out, nil

	case model.EntityPerson:
		var p page[personResult]
		if err := c.get(ctx, "/search/person", params, &p); err != nil {
			return nil, err
		}
		out := make([]model.Candidate, 0, len(p.Results))
		for _, r := range p.Results {
			out = append(out, model.Candidate{
				ExternalID: strconv.FormatInt(r.ID, 10),
				Title:      r.Name,
				Overview:   knownFor(r),
				Popularity: r.Popularity,
			})
		}
		return out, nil

	case model.EntityTvSeries, model.EntityTvShow:
		if year > 0 {
			params.Set("first_air_date_year", strconv.Itoa(year))
		}
		var p page[tvResult]
		if err := c.get(ctx, "/search/tv", params, &p); err != nil {
			return nil, err
		}
		out := make([]model.Candidate, 0, len(p.Results))
		for _, r := range p.Results {
			if isScripted(r.GenreIDs) != (t == model.EntityTvSeries) {
				continue
			}
			out = append(out, model.Candidate{
				ExternalID:  strconv.FormatInt(r.ID, 10),
				Title:       r.Name,
				Year:        yearOf(r.FirstAirDate),
				ReleaseDate: r.FirstAirDate,
				Overview:    r.Overview,
				Popularity:  r.Popularity,
			})
		}
		return out, nil
	}
	return nil, fmt.Errorf("tmdb: %w: %s", model.ErrInvalidEntityType, t)
}

// enrich adds the director of a movie or the biography and birth year of a
// person.
func (c *TMDbClient) enrich(ctx context.Context, t model.EntityType, cand *model.Candidate) error {
	switch t {
	case model.EntityMovie:
		var credits struct {
			Crew []struct {
				Job  string `json:"job"`
				Name string `json:"name"`
			} `json:"crew"`
		}
		if err := c.get(ctx, "/movie/"+cand.ExternalID+"/credits", nil, &credits); err != nil {
			return err
		}
		for _, m := range credits.Crew {
			if m.Job == "Director" {
				cand.Director = m.Name
				return nil
			}
		}
	case model.EntityPerson:
		var details struct {
			Biography string `json:"biography"`
			Birthday  string `json:"birthday"`
		}
		if err := c.get(ctx, "/person/"+cand.ExternalID, nil, &details); err != nil {
			return err
		}
		if details.Biography != "" {
			cand.Overview = details.Biography
		}
		cand.ReleaseDate = details.Birthday
		cand.Year = yearOf(details.Birthday)
	}
	return nil
}

// get performs one throttled, breaker-guarded GET and decodes the JSON body.
func (c *TMDbClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("tmdb throttle: %w", err)
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, path, params)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("tmdb %s: %w: %w", path, model.ErrProviderUnavailable, err)
	case err != nil:
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("tmdb %s: decode: %w", path, err)
	}
	return nil
}

func (c *TMDbClient) do(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	key := c.cfg.APIKey
	bearer := strings.Count(key, ".") == 2
	if !bearer && key != "" {
		params.Set("api_key", key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("tmdb %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if bearer {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tmdb %s: %w: %w", path, model.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("tmdb %s: %w: %w", path, model.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("tmdb %s: %w", path, model.ErrNotFound)
	default:
		return nil, fmt.Errorf("tmdb %s: %w: status %d", path, model.ErrProviderUnavailable, resp.StatusCode)
	}
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}

func isScripted(genres []int) bool {
	for _, g := range genres {
		if slices.Contains(unscriptedGenres, g) {
			return false
		}
	}
	return true
}

func knownFor(r personResult) string {
	var titles []string
	for _, k := range r.KnownFor {
		if k.Title != "" {
			titles = append(titles, k.Title)
		} else if k.Name != "" {
			titles = append(titles, k.Name)
		}
	}
	if len(titles) == 0 {
		return r.Department
	}
	return "Known for: " + strings.Join(titles, ", ")
}
