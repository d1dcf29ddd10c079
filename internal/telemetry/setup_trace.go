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

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mexporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/metric"
	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/contrib/propagators/autoprop"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/jaycherian/gcp-go-media-metadata/internal/cloud"
)

const (
	ExporterGCP  = "gcp"
	ExporterNone = "none"
)

// SetupOpenTelemetry installs the propagators and, for the "gcp" exporter,
// trace and metric providers that export to Cloud Trace and Cloud
// Monitoring. With "none" the global providers stay no-ops, so the cor
// spans and counters cost nothing.
//
// Outputs:
//   - shutdown: Flushes and stops every provider that was started.
//   - err: Resource detection or exporter setup failed.
func SetupOpenTelemetry(ctx context.Context, config *cloud.Config) (shutdown func(context.Context) error, err error) {
	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	otel.SetTextMapPropagator(autoprop.NewTextMapPropagator())

	switch config.Telemetry.Exporter {
	case "", ExporterNone:
		slog.Debug("telemetry export disabled")
		return shutdown, nil
	case ExporterGCP:
	default:
		return shutdown, fmt.Errorf("unknown telemetry exporter %q", config.Telemetry.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithDetectors(gcp.NewDetector()),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceNameKey.String(config.Application.Name)),
	)
	if errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict) {
		slog.Warn("partial resource detection", "error", err)
	} else if err != nil {
		return shutdown, fmt.Errorf("resource detection: %w", err)
	}

	traceExporter, err := texporter.New(texporter.WithProjectID(config.Application.GoogleProjectId))
	if err != nil {
		return shutdown, fmt.Errorf("trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
	otel.SetTracerProvider(tp)

	metricExporter, err := mexporter.New(mexporter.WithProjectID(config.Application.GoogleProjectId))
	if err != nil {
		return shutdown, fmt.Errorf("metric exporter: %w", err)
	}
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExporter)),
		metric.WithResource(res),
	)
	shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
	otel.SetMeterProvider(mp)

	slog.Info("telemetry export enabled", "exporter", ExporterGCP, "project", config.Application.GoogleProjectId)
	return shutdown, nil
}
