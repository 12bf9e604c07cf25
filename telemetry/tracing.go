package telemetry

// Thin wrapper around OpenTelemetry tracing so that the rest of the code
// base never imports the upstream packages directly. Nothing is
// re-implemented; all functionality is delegated to the OpenTelemetry SDK.

import (
	"context"
	"io"
	"os"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Init configures OpenTelemetry with the stdout exporter. If outputFile is
// empty the exporter writes to os.Stdout. The function is safe to call
// multiple times; the first successful initialisation wins.
func Init(serviceName, serviceVersion, outputFile string) error {
	var w io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return err
		}
		w = f
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return err
	}
	return InitWithExporter(serviceName, serviceVersion, exporter)
}

var (
	providerOnce sync.Once
	providerErr  error
)

// InitWithExporter registers the supplied exporter as the global trace
// provider, allowing integration with any exporter the OpenTelemetry SDK
// supports. Only the first invocation takes effect.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	if exporter == nil {
		return nil
	}
	providerOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", serviceName),
				attribute.String("service.version", serviceVersion),
			),
		)
		if err != nil {
			providerErr = err
			return
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
	})
	return providerErr
}

// Span wraps trace.Span so callers do not import the upstream package.
type Span struct {
	span trace.Span
}

// WithAttributes attaches all provided attributes to the span.
func (s *Span) WithAttributes(attrs map[string]string) *Span {
	if s == nil || len(attrs) == 0 {
		return s
	}
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		otelAttrs = append(otelAttrs, attribute.String(k, v))
	}
	s.span.SetAttributes(otelAttrs...)
	return s
}

// SetStatus records an error status on the span, or OK when err is nil.
func (s *Span) SetStatus(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
}

// StartSpan starts a new internal span as a child of whatever span the
// incoming context carries.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	tracer := otel.Tracer("github.com/bitrunq/bitrunq")
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, &Span{span: span}
}

// EndSpan finalises the span, recording status from err.
func EndSpan(sp *Span, err error) {
	if sp == nil {
		return
	}
	sp.SetStatus(err)
	sp.span.End()
}

// EmitSpan records a collected scheduler event as a completed span, with
// the event's fields attached as attributes. Consumers use it to bridge
// the collector stream into whatever exporter Init registered.
func EmitSpan(ev Event) {
	_, sp := StartSpan(context.Background(), "sched."+ev.Kind.String())
	attrs := map[string]string{
		"event.id":   ev.ID,
		"core":       strconv.Itoa(ev.Core),
		"task.id":    strconv.FormatUint(ev.Task, 10),
		"task.trace": ev.TaskTrace,
	}
	if ev.WaitNS != 0 {
		attrs["wait_ns"] = strconv.FormatInt(ev.WaitNS, 10)
	}
	if ev.RunNS != 0 {
		attrs["run_ns"] = strconv.FormatInt(ev.RunNS, 10)
	}
	if ev.LatencyNS != 0 {
		attrs["latency_ns"] = strconv.FormatInt(ev.LatencyNS, 10)
	}
	sp.WithAttributes(attrs)
	EndSpan(sp, nil)
}
