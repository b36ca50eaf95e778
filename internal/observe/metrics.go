// Package observe wires vaani into OpenTelemetry.
//
// [Metrics] holds the pipeline's instruments; [InitProvider] installs the
// SDK with a Prometheus reader so they can be scraped on /metrics.
// [Middleware] traces control-plane requests and [Logger] attaches trace and
// capture-session IDs to log records. Components fall back to
// [DefaultMetrics]; tests pass their own meter provider to [NewMetrics].
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/vaani"

// Metrics holds the instruments shared by the pipeline.
type Metrics struct {
	// UtteranceDuration is the length of captured audio: podcast
	// utterances and wake-gated questions.
	UtteranceDuration     metric.Float64Histogram
	TranscriptionDuration metric.Float64Histogram
	QADuration            metric.Float64Histogram
	// PlaybackDuration covers synthesis and playback of one answer.
	PlaybackDuration metric.Float64Histogram

	// ProviderRequests is labelled provider, kind and status.
	ProviderRequests metric.Int64Counter
	// AnchorResults is labelled with the stage that located the snippet:
	// exact, neighbor, anchor_phrase, tokens or none.
	AnchorResults      metric.Int64Counter
	WakeDetections     metric.Int64Counter
	RecognizerRestarts metric.Int64Counter
	// CaptureErrors is labelled kind and terminal.
	CaptureErrors metric.Int64Counter

	// ActiveCaptures counts open device handles. Anything above one means
	// two streams were open at once.
	ActiveCaptures metric.Int64UpDownCounter

	// HTTPRequestDuration is labelled method, path (the route pattern) and
	// status.
	HTTPRequestDuration metric.Float64Histogram
}

// Voice round trips range from tens of milliseconds (a cached answer) to
// half a minute (a long podcast utterance).
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// builder creates instruments on one meter and remembers every failure.
type builder struct {
	meter metric.Meter
	errs  []error
}

func (b *builder) seconds(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.errs = append(b.errs, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return g
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{meter: mp.Meter(meterName)}
	m := &Metrics{
		UtteranceDuration:     b.seconds("vaani.utterance.duration", "Length of captured utterances.", latencyBuckets...),
		TranscriptionDuration: b.seconds("vaani.transcription.duration", "Latency of batch transcription.", latencyBuckets...),
		QADuration:            b.seconds("vaani.qa.duration", "Latency of question-answering requests.", latencyBuckets...),
		PlaybackDuration:      b.seconds("vaani.playback.duration", "Duration of answer synthesis and playback.", latencyBuckets...),

		ProviderRequests:   b.counter("vaani.provider.requests", "Provider calls by provider, kind and status."),
		AnchorResults:      b.counter("vaani.anchor.results", "Snippet anchoring outcomes by matching stage."),
		WakeDetections:     b.counter("vaani.wake.detections", "Wake phrase detections by strategy."),
		RecognizerRestarts: b.counter("vaani.recognizer.restarts", "Restarts of the streaming speech recognizer."),
		CaptureErrors:      b.counter("vaani.capture.errors", "Capture pipeline errors by kind."),

		ActiveCaptures: b.gauge("vaani.active_captures", "Number of open capture device handles."),

		HTTPRequestDuration: b.seconds("vaani.http.request.duration", "Control-plane request latency by route and status."),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments on the global meter provider, created
// on first use. Call it after [InitProvider] so they reach the exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status),
	))
}

// RecordAnchor records the stage at which a citation was anchored.
func (m *Metrics) RecordAnchor(ctx context.Context, stage string) {
	m.AnchorResults.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordWake records a wake phrase detection.
func (m *Metrics) RecordWake(ctx context.Context, strategy string) {
	m.WakeDetections.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordCaptureError records a capture pipeline error.
func (m *Metrics) RecordCaptureError(ctx context.Context, kind string, terminal bool) {
	m.CaptureErrors.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind), attribute.Bool("terminal", terminal)))
}

// ObserveSince records the elapsed time since start on h, in seconds.
func ObserveSince(ctx context.Context, h metric.Float64Histogram, start time.Time, attrs ...attribute.KeyValue) {
	h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
}
