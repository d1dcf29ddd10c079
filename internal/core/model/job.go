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

package model

import "time"

// JobStatus is the lifecycle state of a generation job.
// PENDING moves to DONE or FAILED exactly once; both are terminal.
type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobDone    JobStatus = "DONE"
	JobFailed  JobStatus = "FAILED"
	// JobUnknown is only ever reported to clients, never stored.
	JobUnknown JobStatus = "UNKNOWN"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// JobError is the structured failure recorded on a FAILED job. TechnicalMessage
// is meant for operators; UserMessage is safe to show to clients.
type JobError struct {
	Type             ErrorType `json:"type"`
	Message          string    `json:"message"`
	TechnicalMessage string    `json:"technical_message"`
	UserMessage      string    `json:"user_message"`
}

// JobResult references what a successful job created.
type JobResult struct {
	EntityID      string   `json:"entity_id"`
	DescriptionID string   `json:"description_id,omitempty"`
	Slug          string   `json:"slug"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Job is the record kept in the job state store.
type Job struct {
	ID              string          `json:"job_id"`
	Status          JobStatus       `json:"status"`
	Entity          EntityType      `json:"entity"`
	Slug            string          `json:"slug"`
	RequestedSlug   string          `json:"requested_slug,omitempty"`
	Locale          Locale          `json:"locale"`
	ContextTag      ContextTag      `json:"context_tag,omitempty"`
	Confidence      *float64        `json:"confidence,omitempty"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level,omitempty"`
	EntityID        string          `json:"entity_id,omitempty"`
	DescriptionID   string          `json:"description_id,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
	Error           *JobError       `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// GenerationRequest is what a caller asks the orchestrator for.
type GenerationRequest struct {
	EntityType    EntityType
	Slug          string
	RequestedSlug string
	Locale        Locale
	ContextTag    ContextTag
	Confidence    Confidence
	// Snapshot is the verified provider record, if the request path already
	// confirmed one. The worker skips its own verification when it is set.
	Snapshot *Candidate
}

// GenerationTask is the message that carries a queued job to a worker. It is
// the payload of the "generation requested" event, whether it travels over an
// in-process channel or a Pub/Sub topic.
type GenerationTask struct {
	JobID         string     `json:"job_id"`
	EntityType    EntityType `json:"entity_type"`
	Slug          string     `json:"slug"`
	RequestedSlug string     `json:"requested_slug,omitempty"`
	Locale        Locale     `json:"locale"`
	ContextTag    ContextTag `json:"context_tag"`
	Snapshot      *Candidate `json:"snapshot,omitempty"`
}
