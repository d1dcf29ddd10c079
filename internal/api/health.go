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

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one dependency. Check returns a short detail such as a
// provider name or breaker state. A failing Critical check turns the answer
// into a 503.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) (string, error)
}

type checkResult struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// health runs every check concurrently and reports them.
func (s *Server) health(c *gin.Context) {
	var (
		mu       sync.Mutex
		results  = make(map[string]checkResult, len(s.deps.Health))
		degraded bool
		down     bool
	)
	g, ctx := errgroup.WithContext(c.Request.Context())
	for _, hc := range s.deps.Health {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()
			detail, err := hc.Check(cctx)
			r := checkResult{Status: "ok", Detail: detail}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.Status, r.Error = "error", err.Error()
				degraded = true
				down = down || hc.Critical
			}
			results[hc.Name] = r
			return nil
		})
	}
	_ = g.Wait()

	status, code := "ok", http.StatusOK
	switch {
	case down:
		status, code = "unavailable", http.StatusServiceUnavailable
	case degraded:
		status = "degraded"
	}
	c.JSON(code, gin.H{"status": status, "service": s.deps.ServiceName, "checks": results})
}
