package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys describing the running dictation instance.
const (
	AttrSTTBackend = attribute.Key("speechblobs.stt.backend")
	AttrDocumentID = attribute.Key("speechblobs.document.id")
)

// Setup describes the telemetry pipeline built by [Init].
type Setup struct {
	// ServiceName defaults to "speechblobs".
	ServiceName    string
	ServiceVersion string

	// STTBackend and DocumentID are attached to the resource so dashboards
	// can split by backend and by archived document.
	STTBackend string
	DocumentID string

	// Registerer receives the Prometheus bridge collector. Nil means
	// [prometheus.DefaultRegisterer], which promhttp.Handler serves.
	Registerer prometheus.Registerer

	// SpanExporter is optional. Without one spans are still created, which
	// keeps trace IDs in log lines, but nothing leaves the process.
	SpanExporter sdktrace.SpanExporter
}

// Telemetry owns the SDK providers installed by [Init].
type Telemetry struct {
	Meters  *sdkmetric.MeterProvider
	Tracers *sdktrace.TracerProvider
}

// Init installs a Prometheus-bridged meter provider and a tracer provider
// as the OTel globals. Call [Telemetry.Shutdown] before exit to flush.
func Init(s Setup) (*Telemetry, error) {
	if s.ServiceName == "" {
		s.ServiceName = "speechblobs"
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(s.ServiceName),
		semconv.ServiceVersion(s.ServiceVersion),
	}
	if s.STTBackend != "" {
		attrs = append(attrs, AttrSTTBackend.String(s.STTBackend))
	}
	if s.DocumentID != "" {
		attrs = append(attrs, AttrDocumentID.String(s.DocumentID))
	}
	// Schemaless so the merge keeps the SDK default schema URL.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	var expOpts []promexporter.Option
	if s.Registerer != nil {
		expOpts = append(expOpts, promexporter.WithRegisterer(s.Registerer))
	}
	reader, err := promexporter.New(expOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if s.SpanExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(s.SpanExporter))
	}

	t := &Telemetry{
		Meters:  sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)),
		Tracers: sdktrace.NewTracerProvider(tpOpts...),
	}
	otel.SetMeterProvider(t.Meters)
	otel.SetTracerProvider(t.Tracers)
	return t, nil
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Tracers.Shutdown(ctx), t.Meters.Shutdown(ctx))
}
