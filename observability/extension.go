package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/deadletter"
	"github.com/syncline/syncline/hook"
	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
)

// meterName is the instrumentation scope name for syncline metrics.
const meterName = "github.com/syncline/syncline"

// Compile-time interface checks.
var (
	_ hook.Extension         = (*MetricsExtension)(nil)
	_ hook.RunStarted        = (*MetricsExtension)(nil)
	_ hook.BatchLoaded       = (*MetricsExtension)(nil)
	_ hook.ShardFailed       = (*MetricsExtension)(nil)
	_ hook.WatermarkAdvanced = (*MetricsExtension)(nil)
	_ hook.RunCompleted      = (*MetricsExtension)(nil)
	_ hook.RunFailed         = (*MetricsExtension)(nil)
	_ hook.TickSkipped       = (*MetricsExtension)(nil)
	_ hook.DeadLettered      = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via OpenTelemetry.
// Register it as a Syncline extension to automatically track run starts,
// completions, failures, loaded batches and documents, failed shards,
// skipped ticks, and dead letter entries. If no global MeterProvider is
// configured, the OTel API returns noop instruments and the extension
// becomes a pass-through.
type MetricsExtension struct {
	runsStarted     metric.Int64Counter
	runsCompleted   metric.Int64Counter
	runsFailed      metric.Int64Counter
	runDuration     metric.Float64Histogram
	batchesLoaded   metric.Int64Counter
	documentsLoaded metric.Int64Counter
	shardsFailed    metric.Int64Counter
	ticksSkipped    metric.Int64Counter
	deadLetters     metric.Int64Counter
	watermarkSeq    metric.Int64Gauge
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific MeterProvider
// for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	m.runsStarted, _ = meter.Int64Counter("syncline.run.started",
		metric.WithDescription("Total number of sync runs started"),
		metric.WithUnit("{run}"))
	m.runsCompleted, _ = meter.Int64Counter("syncline.run.completed",
		metric.WithDescription("Total number of sync runs completed successfully"),
		metric.WithUnit("{run}"))
	m.runsFailed, _ = meter.Int64Counter("syncline.run.failed",
		metric.WithDescription("Total number of sync runs ending in failure"),
		metric.WithUnit("{run}"))
	m.runDuration, _ = meter.Float64Histogram("syncline.run.duration",
		metric.WithDescription("Duration of successful sync runs in seconds"),
		metric.WithUnit("s"))
	m.batchesLoaded, _ = meter.Int64Counter("syncline.batch.loaded",
		metric.WithDescription("Total number of batches durably loaded"),
		metric.WithUnit("{batch}"))
	m.documentsLoaded, _ = meter.Int64Counter("syncline.document.loaded",
		metric.WithDescription("Total number of documents upserted"),
		metric.WithUnit("{document}"))
	m.shardsFailed, _ = meter.Int64Counter("syncline.shard.failed",
		metric.WithDescription("Total number of failed transform shards"),
		metric.WithUnit("{shard}"))
	m.ticksSkipped, _ = meter.Int64Counter("syncline.tick.skipped",
		metric.WithDescription("Total number of ticks skipped on lease contention"),
		metric.WithUnit("{tick}"))
	m.deadLetters, _ = meter.Int64Counter("syncline.deadletter.pushed",
		metric.WithDescription("Total number of ranges parked as dead letters"),
		metric.WithUnit("{entry}"))
	m.watermarkSeq, _ = meter.Int64Gauge("syncline.watermark.seq",
		metric.WithDescription("Committed watermark sequence per job"))
	return m
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_name", name))
}

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements hook.RunStarted.
func (m *MetricsExtension) OnRunStarted(ctx context.Context, d *job.Definition, _ id.RunID) error {
	m.runsStarted.Add(ctx, 1, jobAttrs(d.Name))
	return nil
}

// OnRunCompleted implements hook.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(ctx context.Context, d *job.Definition, _ id.RunID, elapsed time.Duration) error {
	m.runsCompleted.Add(ctx, 1, jobAttrs(d.Name))
	m.runDuration.Record(ctx, elapsed.Seconds(), jobAttrs(d.Name))
	return nil
}

// OnRunFailed implements hook.RunFailed.
func (m *MetricsExtension) OnRunFailed(ctx context.Context, d *job.Definition, _ id.RunID, runErr error) error {
	m.runsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_name", d.Name),
		attribute.String("kind", string(syncline.KindOf(runErr))),
	))
	return nil
}

// ── Batch and shard hooks ───────────────────────────

// OnBatchLoaded implements hook.BatchLoaded.
func (m *MetricsExtension) OnBatchLoaded(ctx context.Context, jobName string, _ syncline.WatermarkRange, docs int) error {
	m.batchesLoaded.Add(ctx, 1, jobAttrs(jobName))
	m.documentsLoaded.Add(ctx, int64(docs), jobAttrs(jobName))
	return nil
}

// OnShardFailed implements hook.ShardFailed.
func (m *MetricsExtension) OnShardFailed(ctx context.Context, jobName string, _ syncline.WatermarkRange, _ error) error {
	m.shardsFailed.Add(ctx, 1, jobAttrs(jobName))
	return nil
}

// OnWatermarkAdvanced implements hook.WatermarkAdvanced.
func (m *MetricsExtension) OnWatermarkAdvanced(ctx context.Context, jobName string, w syncline.Watermark) error {
	m.watermarkSeq.Record(ctx, w.Seq, jobAttrs(jobName))
	return nil
}

// ── Other hooks ─────────────────────────────────────

// OnTickSkipped implements hook.TickSkipped.
func (m *MetricsExtension) OnTickSkipped(ctx context.Context, jobName string) error {
	m.ticksSkipped.Add(ctx, 1, jobAttrs(jobName))
	return nil
}

// OnDeadLettered implements hook.DeadLettered.
func (m *MetricsExtension) OnDeadLettered(ctx context.Context, entry *deadletter.Entry) error {
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_name", entry.JobName),
		attribute.String("kind", string(entry.Kind)),
	))
	return nil
}
