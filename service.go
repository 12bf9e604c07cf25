package bitrunq

import (
	"context"

	"github.com/bitrunq/bitrunq/policy"
	"github.com/bitrunq/bitrunq/service/sched"
	"github.com/bitrunq/bitrunq/telemetry"
	"github.com/bitrunq/bitrunq/topology"
)

// Service is the high-level facade: it assembles the scheduler, the event
// collector and optional tracing from a single configuration.
type Service struct {
	config    *Config
	policy    policy.Policy
	topo      *topology.Topology
	collector *telemetry.Collector
	scheduler *sched.Scheduler
}

// New builds a Service from options layered over the defaults.
func New(options ...Option) (*Service, error) {
	s := &Service{config: DefaultConfig()}
	for _, option := range options {
		option(s)
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) init() error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	s.ensureBaseSetup()
	var opts []sched.Option
	if s.policy != nil {
		opts = append(opts, sched.WithPolicy(s.policy))
	}
	if s.topo != nil {
		opts = append(opts, sched.WithTopology(s.topo))
	}
	opts = append(opts, sched.WithCollector(s.collector))
	scheduler, err := sched.New(s.config.Scheduler, opts...)
	if err != nil {
		return err
	}
	s.scheduler = scheduler
	return nil
}

func (s *Service) ensureBaseSetup() {
	if s.collector == nil {
		s.collector = telemetry.NewCollector(s.config.Telemetry.EventBuffer)
	}
	if s.config.Telemetry.Tracing {
		out := s.config.Telemetry.TraceFile
		if out == "stdout" {
			out = ""
		}
		_ = telemetry.Init("bitrunq", "dev", out)
	}
}

// Scheduler returns the assembled scheduler.
func (s *Service) Scheduler() *sched.Scheduler {
	return s.scheduler
}

// Collector returns the event collector.
func (s *Service) Collector() *telemetry.Collector {
	return s.collector
}

// Events forwards collected scheduler events to fn until ctx is done.
// With tracing enabled every event is also recorded as a span, so the
// dispatch, wakeup and balancing milestones show up in the exporter.
func (s *Service) Events(ctx context.Context, fn func(telemetry.Event)) {
	if s.config.Telemetry.Tracing {
		inner := fn
		fn = func(ev telemetry.Event) {
			telemetry.EmitSpan(ev)
			inner(ev)
		}
	}
	s.collector.Consume(ctx, fn)
}

// Stats returns a snapshot of the scheduler counters.
func (s *Service) Stats() telemetry.Counters {
	return s.collector.Snapshot()
}
