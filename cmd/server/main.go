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

// Package main is the entry point for the media metadata server.
//
// The server exposes a REST API for movies, people, TV series and TV shows.
// Unknown slugs are verified against an external metadata provider and a
// generation job is queued that writes an AI description in the background;
// clients poll the job until it is done. The server is instrumented with
// OpenTelemetry for logging, tracing and metrics.
//
// Functions:
//   - main: Loads the configuration, sets up telemetry, initializes the
//     application state, serves HTTP and handles graceful shutdown.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jaycherian/gcp-go-media-metadata/internal/telemetry"
)

func main() {
	config, err := GetConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	closeLog, err := telemetry.SetupLogging(config.Telemetry)
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer closeLog()
	slog.Info("Logging initialized", "level", config.Telemetry.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		slog.Error("Failed to setup OpenTelemetry", "error", err)
		os.Exit(1)
	}
	slog.Info("Tracing initialized", "exporter", config.Telemetry.Exporter)

	// Workers run on a context cancelled only after the HTTP server has stopped.
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()

	state, err := InitState(workerCtx, config)
	if err != nil {
		slog.Error("Failed to initialize state", "error", err)
		os.Exit(1)
	}
	slog.Info("Initialized State")

	if err := SetupListeners(workerCtx, config, state.cloud, state.workflow); err != nil {
		slog.Error("Failed to start listeners", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         ":" + config.Application.HTTPPort,
		Handler:      state.server.Router(),
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to listen", "error", err)
			cancel()
		}
	}()
	slog.Info("Server Ready", "port", config.Application.HTTPPort)

	<-ctx.Done()
	slog.Info("Shutdown Server ...")

	timeout := time.Duration(config.Application.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server Shutdown Failed", "error", err)
	}
	state.Close(shutdownCtx)
	stopWorkers()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("Telemetry Shutdown Failed", "error", err)
	}
	slog.Info("Server exiting")
}
