// Package observability provides an OpenTelemetry-based metrics
// extension for Syncline. The MetricsExtension implements lifecycle
// hooks to record system-wide counters for run starts, completions,
// failures, loaded batches and documents, failed shards, skipped ticks,
// and dead letter events.
//
// For per-run duration metrics, see the middleware package:
// middleware.Metrics().
package observability
