// Copyright (c) ReviewFlow Authors.
// Licensed under the MIT License.

// Package telemetry initializes the OpenTelemetry SDK (OTLP over gRPC) for
// workflow run spans and LLM request metrics. When disabled no exporter is
// created and callers get noop providers.
package telemetry
