// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry tracing and metrics for the
// context daemon. Traces go to OTLP when OTEL_EXPORTER_OTLP_ENDPOINT is
// set and to stdout otherwise; metrics are exposed via a Prometheus
// registry scraped at /metrics.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Telemetry bundles the initialized providers and the daemon's
// instruments.
type Telemetry struct {
	Metrics *Metrics

	// MetricsHandler serves the Prometheus scrape endpoint.
	MetricsHandler http.Handler

	shutdownFuncs []func(context.Context) error
}

// Init sets up the global tracer and meter providers.
//
// Description:
//
//	Builds the service resource, installs a trace provider (OTLP gRPC
//	when OTEL_EXPORTER_OTLP_ENDPOINT is set, stdout otherwise) and a
//	Prometheus-backed meter provider, then registers the daemon's
//	instruments. After Init returns, otel.Tracer and otel.Meter work
//	throughout the process.
//
// Outputs:
//   - *Telemetry: Providers, instruments, and the /metrics handler.
//   - error: Non-nil if any exporter or instrument fails to initialize.
//
// Thread Safety: Call once at startup; Shutdown once at exit.
func Init(ctx context.Context, serviceName, version string) (*Telemetry, error) {
	t := &Telemetry{}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)

	tp, err := initTracer(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	otel.SetTracerProvider(tp)
	t.shutdownFuncs = append(t.shutdownFuncs, tp.Shutdown)

	registry := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("init prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)
	t.shutdownFuncs = append(t.shutdownFuncs, mp.Shutdown)
	t.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	metrics, err := NewMetrics(mp.Meter(serviceName))
	if err != nil {
		return nil, fmt.Errorf("register instruments: %w", err)
	}
	t.Metrics = metrics

	return t, nil
}

// Shutdown flushes and stops all providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown: %v", errs)
	}
	return nil
}

func initTracer(ctx context.Context, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}
