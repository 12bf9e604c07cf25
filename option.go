package bitrunq

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/bitrunq/bitrunq/policy"
	"github.com/bitrunq/bitrunq/telemetry"
	"github.com/bitrunq/bitrunq/topology"
)

// Option customizes the Service construction.
type Option func(s *Service)

// WithConfig replaces the whole configuration.
func WithConfig(cfg *Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.config = cfg
		}
	}
}

// WithCores overrides the configured core count.
func WithCores(n int) Option {
	return func(s *Service) { s.config.Scheduler.Cores = n }
}

// WithPolicy supplies a prebuilt priority policy instead of the configured
// name.
func WithPolicy(p policy.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithTopology supplies a prebuilt topology instead of loading one from
// the configured path.
func WithTopology(t *topology.Topology) Option {
	return func(s *Service) { s.topo = t }
}

// WithCollector supplies an event collector; the configured event buffer
// is ignored.
func WithCollector(c *telemetry.Collector) Option {
	return func(s *Service) { s.collector = c }
}

// WithTracing configures OpenTelemetry tracing for the service. If
// outputFile is empty the stdout exporter is used; otherwise spans are
// written to the supplied file path. Safe to call multiple times; the
// first successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = telemetry.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom
// SpanExporter, enabling OTLP, Jaeger or Zipkin integrations. Safe to
// call multiple times; the first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = telemetry.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
