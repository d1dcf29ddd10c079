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

// Package telemetry configures logging, tracing and metrics export.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/jaycherian/gcp-go-media-metadata/internal/cloud"
)

type spanContextLogHandler struct {
	slog.Handler
}

func handlerWithSpanContext(handler slog.Handler) *spanContextLogHandler {
	return &spanContextLogHandler{Handler: handler}
}

// Handle adds the Cloud Logging trace fields when ctx carries a span.
// See: https://cloud.google.com/logging/docs/structured-logging#special-payload-fields
func (t *spanContextLogHandler) Handle(ctx context.Context, record slog.Record) error {
	if s := trace.SpanContextFromContext(ctx); s.IsValid() {
		record.AddAttrs(
			slog.Any("logging.googleapis.com/trace", s.TraceID()),
			slog.Any("logging.googleapis.com/spanId", s.SpanID()),
			slog.Bool("logging.googleapis.com/trace_sampled", s.TraceFlags().IsSampled()),
		)
	}
	return t.Handler.Handle(ctx, record)
}

func (t *spanContextLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return handlerWithSpanContext(t.Handler.WithAttrs(attrs))
}

func (t *spanContextLogHandler) WithGroup(name string) slog.Handler {
	return handlerWithSpanContext(t.Handler.WithGroup(name))
}

// replacer renames attribute keys to the Cloud Logging structured format.
func replacer(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.LevelKey:
		a.Key = "severity"
		// https://cloud.google.com/logging/docs/reference/v2/rest/v2/LogEntry#LogSeverity
		if level, ok := a.Value.Any().(slog.Level); ok && level == slog.LevelWarn {
			a.Value = slog.StringValue("WARNING")
		}
	case slog.TimeKey:
		a.Key = "timestamp"
	case slog.MessageKey:
		a.Key = "message"
	}
	return a
}

// ParseLevel maps a configured level name onto a slog level. Unknown names
// are info.
func ParseLevel(in string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewHandler builds the JSON handler used by the service.
func NewHandler(w io.Writer, level slog.Level) slog.Handler {
	return handlerWithSpanContext(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: replacer}))
}

// SetupLogging installs the JSON handler as the slog default and points the
// standard logger at the same writer.
//
// Inputs:
//   - cfg: The [telemetry] section. LogFile, when set, receives a copy of
//     every line written to stdout.
//
// Outputs:
//   - func() error: Closes the log file, if any.
//   - error: The log file could not be opened.
func SetupLogging(cfg cloud.Telemetry) (func() error, error) {
	var out io.Writer = os.Stdout
	closer := func() error { return nil }
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return closer, fmt.Errorf("opening log file %s: %w", cfg.LogFile, err)
		}
		out = io.MultiWriter(os.Stdout, file)
		closer = file.Close
	}

	log.SetOutput(out)
	log.SetPrefix("[INFO] ")
	log.SetFlags(log.Ldate | log.Ltime)

	slog.SetDefault(slog.New(NewHandler(out, ParseLevel(cfg.LogLevel))))
	return closer, nil
}
