// Package observe provides application-wide observability primitives for
// the analysis worker: OpenTelemetry metrics, tracing, structured logging,
// and HTTP middleware for the ops listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all worker metrics.
const meterName = "github.com/invigil/invigil"

// Metrics holds all OpenTelemetry metric instruments for the worker.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// JobDuration tracks end-to-end processing time per claimed job.
	JobDuration metric.Float64Histogram

	// StageDuration tracks per-stage latency inside one job. Use with
	// attribute:
	//   attribute.String("stage", ...) — fetch, extract_frames,
	//   extract_audio, video_analysis, audio_analysis, persist
	StageDuration metric.Float64Histogram

	// --- Counters ---

	// JobsProcessed counts settled jobs. Use with attribute:
	//   attribute.String("outcome", ...) — completed or failed
	JobsProcessed metric.Int64Counter

	// QueuePolls counts claim attempts. Use with attribute:
	//   attribute.String("result", ...) — claimed, empty or error
	QueuePolls metric.Int64Counter

	// FramesAnalyzed counts video frames run through the vision service.
	FramesAnalyzed metric.Int64Counter

	// EventsDetected counts emitted events. Use with attribute:
	//   attribute.String("kind", ...)
	EventsDetected metric.Int64Counter

	// --- Error counters ---

	// DetectorErrors counts analysis stage failures. Use with attribute:
	//   attribute.String("detector", ...) — video, audio or media
	DetectorErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveJobs tracks how many jobs are currently mid-pipeline.
	ActiveJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks ops listener request time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// jobBuckets defines histogram bucket boundaries (in seconds) sized for
// whole recordings: a job spans ffmpeg extraction plus frame-by-frame
// analysis, so minutes are normal.
var jobBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800,
}

// stageBuckets covers the spread between a sub-second database fetch and a
// multi-minute video analysis pass.
var stageBuckets = []float64{
	0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.JobDuration, err = m.Float64Histogram("invigil.job.duration",
		metric.WithDescription("End-to-end processing time per claimed job."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("invigil.stage.duration",
		metric.WithDescription("Per-stage latency inside one job, by stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.JobsProcessed, err = m.Int64Counter("invigil.jobs.processed",
		metric.WithDescription("Total settled jobs by outcome."),
	); err != nil {
		return nil, err
	}
	if met.QueuePolls, err = m.Int64Counter("invigil.queue.polls",
		metric.WithDescription("Total claim attempts by result."),
	); err != nil {
		return nil, err
	}
	if met.FramesAnalyzed, err = m.Int64Counter("invigil.frames.analyzed",
		metric.WithDescription("Total video frames run through the vision service."),
	); err != nil {
		return nil, err
	}
	if met.EventsDetected, err = m.Int64Counter("invigil.events.detected",
		metric.WithDescription("Total emitted events by kind."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.DetectorErrors, err = m.Int64Counter("invigil.detector.errors",
		metric.WithDescription("Total analysis stage failures by detector."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveJobs, err = m.Int64UpDownCounter("invigil.jobs.active",
		metric.WithDescription("Number of jobs currently mid-pipeline."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("invigil.http.request.duration",
		metric.WithDescription("Ops listener request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordJobOutcome records one settled job.
func (m *Metrics) RecordJobOutcome(ctx context.Context, outcome string) {
	m.JobsProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordQueuePoll records one claim attempt and its result.
func (m *Metrics) RecordQueuePoll(ctx context.Context, result string) {
	m.QueuePolls.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordStage records one pipeline stage's duration in seconds.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordEvents records n emitted events of one kind.
func (m *Metrics) RecordEvents(ctx context.Context, kind string, n int64) {
	if n == 0 {
		return
	}
	m.EventsDetected.Add(ctx, n,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordDetectorError records one analysis stage failure.
func (m *Metrics) RecordDetectorError(ctx context.Context, detector string) {
	m.DetectorErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("detector", detector)),
	)
}
