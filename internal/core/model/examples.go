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

// Package model defines the data structures for the application. This file,
// `examples.go`, provides factory functions for hardcoded example instances of
// the generated payload.
//
// The examples are embedded in prompts as "few-shot" samples so the model
// returns JSON in exactly the shape GeneratedEntity decodes.
package model

// GetExampleGeneratedMovie returns a sample movie payload used as the few-shot
// example for movie and TV prompts.
//
// Outputs:
//   - *GeneratedEntity: A pointer to a hardcoded payload for "Serenity".
func GetExampleGeneratedMovie() *GeneratedEntity {
	return &GeneratedEntity{
		Title:    "Serenity",
		Year:     2005,
		Director: "Joss Whedon",
		Description: "The crew of the transport ship Serenity takes on a risky job and finds itself hunted " +
			"by a relentless operative of the Alliance, who wants back the telepathic passenger the crew has sheltered.",
		Genres: []string{"Science Fiction", "Action"},
		Cast:   []string{"Nathan Fillion", "Summer Glau", "Sean Maher"},
	}
}

// GetExampleGeneratedPerson returns a sample biography payload.
func GetExampleGeneratedPerson() *GeneratedEntity {
	return &GeneratedEntity{
		Title: "Keanu Reeves",
		Year:  1964,
		Description: "Keanu Reeves is a Canadian actor known for his roles in action and science fiction films. " +
			"He rose to prominence in the late 1980s and became a global star with The Matrix.",
		Genres: []string{"Action", "Science Fiction"},
	}
}

// GetExampleFor picks the few-shot example matching the entity type.
func GetExampleFor(t EntityType) *GeneratedEntity {
	if t.IsPerson() {
		return GetExampleGeneratedPerson()
	}
	return GetExampleGeneratedMovie()
}
