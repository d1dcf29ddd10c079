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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

// job handles GET /jobs/:id. Unknown and expired ids answer 404 with status
// UNKNOWN.
func (s *Server) job(c *gin.Context) {
	id := c.Param("id")
	job, ok, err := s.deps.Store.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, "", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"job_id": id, "status": model.JobUnknown})
		return
	}
	c.JSON(http.StatusOK, job)
}
