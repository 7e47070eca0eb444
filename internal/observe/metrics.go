// Package observe holds the observability plumbing of speechblobs: the
// OpenTelemetry instruments, span helpers that tie log lines to traces, and
// the HTTP middleware.
//
// Instruments live on [Metrics]. Production code uses [DefaultMetrics],
// which binds to the global meter provider installed by [Init] and is
// scraped through the Prometheus bridge. Tests build their own with
// [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/speechblobs"

// Metrics bundles every instrument the dictation pipeline records.
type Metrics struct {
	// Transcription.
	STTDuration            metric.Float64Histogram
	TranscriptionsInFlight metric.Int64UpDownCounter
	ProviderRequests       metric.Int64Counter // provider, kind, status
	ProviderErrors         metric.Int64Counter // provider, kind

	// Recorder.
	Utterances          metric.Int64Counter
	UtteranceDuration   metric.Float64Histogram
	RecorderTransitions metric.Int64Counter // to

	// Document and playback.
	DocumentEdits  metric.Int64Counter // op
	PlaybackStarts metric.Int64Counter

	// HTTP surface.
	EventSubscribers    metric.Int64UpDownCounter
	HTTPRequestDuration metric.Float64Histogram // method, path
}

// Transcription round trips range from a local whisper server answering in
// tens of milliseconds to a hosted API working through a long utterance.
var sttBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Utterances are closed by silence, so very short ones are rare.
var utteranceBuckets = []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120}

// instruments collects instrument construction errors so NewMetrics can
// report all of them at once.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

func (in *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return g
}

func (in *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	in.errs = append(in.errs, err)
	return h
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		STTDuration:            in.seconds("speechblobs.stt.duration", "Latency of speech-to-text transcription.", sttBuckets),
		TranscriptionsInFlight: in.gauge("speechblobs.transcriptions.in_flight", "Submitted transcriptions that have not resolved yet."),
		ProviderRequests:       in.counter("speechblobs.provider.requests", "Provider API requests by provider, kind and status."),
		ProviderErrors:         in.counter("speechblobs.provider.errors", "Provider errors by provider and kind."),

		Utterances:          in.counter("speechblobs.utterances", "Utterances closed by the recorder."),
		UtteranceDuration:   in.seconds("speechblobs.utterance.duration", "Audio length of closed utterances.", utteranceBuckets),
		RecorderTransitions: in.counter("speechblobs.recorder.transitions", "Recorder state transitions by target state."),

		DocumentEdits:  in.counter("speechblobs.document.edits", "Document mutations by operation."),
		PlaybackStarts: in.counter("speechblobs.playback.starts", "Segments started by the playback sequencer."),

		EventSubscribers:    in.gauge("speechblobs.events.subscribers", "Connected event stream clients."),
		HTTPRequestDuration: in.seconds("speechblobs.http.request.duration", "HTTP request latency by method and route.", nil),
	}
	if err := errors.Join(in.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide instruments bound to the global
// meter provider. It panics if an instrument cannot be created, which only
// happens on a name clash.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		if defaultMetrics, err = NewMetrics(otel.GetMeterProvider()); err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest counts one provider call. status is "ok" or "error".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError counts a failed provider call by error kind.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordUtterance counts a closed utterance of the given length.
func (m *Metrics) RecordUtterance(ctx context.Context, seconds float64) {
	m.Utterances.Add(ctx, 1)
	m.UtteranceDuration.Record(ctx, seconds)
}

func (m *Metrics) RecordDocumentEdit(ctx context.Context, op string) {
	m.DocumentEdits.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) RecordRecorderTransition(ctx context.Context, to string) {
	m.RecorderTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}
