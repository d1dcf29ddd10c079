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

// Package cloud contains utilities for interacting with Google Cloud services.
// This file defines the object writer the pipeline uses to archive raw AI
// responses in Cloud Storage.
package cloud

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// ObjectWriter stores one object.
type ObjectWriter interface {
	WriteObject(ctx context.Context, name string, contentType string, data []byte) error
}

// GCSObjectWriter writes objects into one bucket under a prefix.
type GCSObjectWriter struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSObjectWriter creates a writer for bucket. prefix may be empty.
func NewGCSObjectWriter(client *storage.Client, bucket, prefix string) *GCSObjectWriter {
	return &GCSObjectWriter{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// ObjectName joins the writer's prefix and name.
func (w *GCSObjectWriter) ObjectName(name string) string {
	if w.prefix == "" {
		return name
	}
	return path.Join(w.prefix, name)
}

// WriteObject uploads data. The object is only created if Close succeeds.
func (w *GCSObjectWriter) WriteObject(ctx context.Context, name string, contentType string, data []byte) error {
	object := w.ObjectName(name)
	writer := w.client.Bucket(w.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writing gs://%s/%s: %w", w.bucket, object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing gs://%s/%s: %w", w.bucket, object, err)
	}
	return nil
}
