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

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zeebo/assert"

	"github.com/jaycherian/gcp-go-media-metadata/internal/cloud"
	test "github.com/jaycherian/gcp-go-media-metadata/internal/testutil"
)

func get(r http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	body := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestTestConfiguration(t *testing.T) {
	config := test.GetConfig()
	assert.Equal(t, config.Jobs.QueueDriver, cloud.DriverMemory)
	assert.Equal(t, config.Jobs.Store, cloud.DriverMemory)
	assert.Equal(t, config.Repository.Driver, cloud.DriverMemory)
	assert.Equal(t, config.Telemetry.Exporter, "none")
	assert.Equal(t, config.Jobs.WorkerTimeoutSeconds, 5)
	assert.That(t, config.Repository.Seed)
	assert.That(t, config.Plans["pro"].Has("generate"))
	assert.That(t, !config.Plans["free"].Has("generate"))
}

// TestServerGeneratesUnknownMovie runs the whole stack in process: the slug
// is verified against the fake provider, a worker generates the description
// with the mock AI and the movie is served from the catalogue afterwards.
func TestServerGeneratesUnknownMovie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := test.Logger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state, err := InitState(ctx, test.Clone())
	test.HandleErr(err, t)
	defer state.Close(context.Background())
	router := state.server.Router()

	w, body := get(router, "/api/v1/movies/inception-2010")
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, body["title"], "Inception")

	w, body = get(router, "/api/v1/movies/the-matrix-1999")
	assert.Equal(t, w.Code, http.StatusAccepted)
	jobID, _ := body["job_id"].(string)
	assert.That(t, jobID != "")
	logger.Info("generation queued", "job_id", jobID)

	status := ""
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		w, body = get(router, "/api/v1/jobs/"+jobID)
		assert.Equal(t, w.Code, http.StatusOK)
		status, _ = body["status"].(string)
		if status != "PENDING" {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	assert.Equal(t, status, "DONE")
	logger.Info("generation finished", "job_id", jobID, "entity_id", body["entity_id"])

	w, body = get(router, "/api/v1/movies/the-matrix-1999")
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, body["title"], "The Matrix")
	description, ok := body["description"].(map[string]any)
	assert.That(t, ok)
	assert.Equal(t, description["origin"], "GENERATED")

	w, body = get(router, "/health")
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, body["status"], "ok")
}

func TestSetupListeners(t *testing.T) {
	config := test.Clone()
	clients := &cloud.ServiceClients{PubSubListeners: map[string]*cloud.PubSubListener{}}

	assert.Nil(t, SetupListeners(context.Background(), config, clients, nil))

	config.Jobs.QueueDriver = cloud.DriverPubSub
	config.Jobs.Subscription = "missing"
	assert.NotNil(t, SetupListeners(context.Background(), config, clients, nil))
}
