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

package services

// BigQuery statements used by BigQueryRepository. Table names are formatted in
// with %s; every value is a named query parameter.
const (
	QryFindEntityBySlug = "SELECT * FROM `%s` WHERE entity_type = @entity_type AND slug = @slug LIMIT 1"

	QryFindEntitiesByTitleSlug = "SELECT * FROM `%s` WHERE entity_type = @entity_type AND title_slug = @title_slug"

	// QrySearchEntities matches the lower-cased title or the title slug.
	// LIKE wildcards in the user's query are escaped before binding.
	QrySearchEntities = "SELECT * FROM `%s` WHERE entity_type = @entity_type AND (LOWER(title) LIKE @title_pattern OR title_slug LIKE @slug_pattern) ORDER BY year DESC, seq ASC LIMIT @limit"

	QryFindEntityByID = "SELECT * FROM `%s` WHERE id = @id LIMIT 1"

	QryListDescriptions = "SELECT * FROM `%s` WHERE entity_id = @entity_id ORDER BY created_at ASC"
)
