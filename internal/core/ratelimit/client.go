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

package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-chi/httprate"
)

// APIKeyHeader carries the client's API key.
const APIKeyHeader = "X-API-Key"

// HashAPIKey returns the hex SHA-256 of an API key. Only hashes are kept in
// configuration and logs.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ClientKey identifies the caller: a hash prefix of the API key when one is
// sent, otherwise the client IP.
func ClientKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return "key:" + HashAPIKey(key)[:16]
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil || ip == "" {
		return "ip:unknown"
	}
	return "ip:" + ip
}
