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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/jaycherian/gcp-go-media-metadata/internal/cloud"
	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

// ErrMissingAPIKey is returned by NewOpenAI without a key.
var ErrMissingAPIKey = errors.New("openai: api key not configured")

// HTTPError is a non-2xx answer from the API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream http error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("upstream http error: status=%d body=%s", e.StatusCode, e.Body)
}

// OpenAI generates with the chat completions API using a JSON schema
// response format.
type OpenAI struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	timeout     time.Duration
	httpClient  *http.Client
	now         func() time.Time
}

// NewOpenAI creates the provider. A nil httpClient gets a tuned transport.
func NewOpenAI(cfg cloud.OpenAIModel, httpClient *http.Client) (*OpenAI, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	o := &OpenAI{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      key,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		httpClient:  httpClient,
		now:         time.Now,
	}
	if o.baseURL == "" {
		o.baseURL = "https://api.openai.com/v1"
	}
	if o.model == "" {
		o.model = "gpt-4o-mini"
	}
	if o.temperature == 0 {
		o.temperature = 0.7
	}
	if o.timeout <= 0 {
		o.timeout = 60 * time.Second
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        20,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}}
	}
	return o, nil
}

func (o *OpenAI) Name() string { return "openai:" + o.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
}

// responseSchema mirrors payload.
var responseSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "generated_entity",
		"strict": false,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":        map[string]any{"type": "string"},
				"release_year": map[string]any{"type": "integer"},
				"director":     map[string]any{"type": "string"},
				"description":  map[string]any{"type": "string"},
				"genres":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"cast":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"error":        map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
	},
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (model.GeneratedEntity, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return model.GeneratedEntity{}, err
	}
	body := chatCompletionRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Temperature:    o.temperature,
		ResponseFormat: responseSchema,
	}

	var resp chatCompletionResponse
	if err := o.doJSON(ctx, "/chat/completions", body, &resp); err != nil {
		return model.GeneratedEntity{}, fmt.Errorf("%w: openai: %w", model.ErrAIProvider, err)
	}
	if len(resp.Choices) == 0 {
		return model.GeneratedEntity{}, fmt.Errorf("%w: openai: empty choices", model.ErrAIProvider)
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return model.GeneratedEntity{}, fmt.Errorf("%w: openai refused: %s", model.ErrAIProvider, msg.Refusal)
	}

	entity, err := DecodePayload(msg.Content, req, o.now())
	if err != nil {
		return model.GeneratedEntity{}, err
	}
	entity.Model = o.model
	return entity, nil
}

func (o *OpenAI) doJSON(ctx context.Context, path string, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
