// Package observability provides monitoring and debugging capabilities for
// the Loom execution engine through metrics, structured logging, and
// distributed tracing.
//
// # Overview
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Metrics
//
// Prometheus counters, histograms, and gauges cover run lifecycle, model
// request latency and token consumption, tool execution, trace store
// queries, and live streaming sessions. All metric names carry the loom_
// prefix.
//
//	metrics := observability.NewMetrics()
//	metrics.RecordModelRequest("anthropic", model, "success", seconds, in, out)
//
// # Logging
//
// The Logger wraps log/slog with level/format configuration, automatic
// run/session/agent correlation from context, and regex-based redaction of
// API keys and other secrets before they reach the log stream.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info"})
//	ctx = observability.WithRunID(ctx, runID)
//	logger.Info(ctx, "turn finished", "turn", 3)
//
// # Tracing
//
// The Tracer wraps OpenTelemetry with an OTLP/gRPC exporter. Spans cover
// each run, model request, tool execution, and store query. With no
// endpoint configured the tracer is a no-op.
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "loom",
//	    Endpoint:    os.Getenv("OTEL_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
package observability
