// Package bitrunq provides an O(1) multi-core task scheduler built on
// per-core bitmap priority queues.
//
// The scheduler is a library, not a runtime: the host owns the execution
// threads and drives each core through Tick and Schedule, while the
// library decides what runs where. Placement follows a topology
// classification (SMT sibling groups, cache domains, performance and
// efficiency cores) and load is kept even through wake-time selection,
// pull balancing and forced migrations.
//
// Sub-packages:
//
//   - service/sched: dispatch loop, wakeup protocol, balancing
//   - service/runqueue: the per-core bitmap priority queue
//   - policy: pluggable priority-level strategies
//   - topology: core classification and balance tiers
//   - telemetry: event collector and tracing
//
// End-users typically interact through the Service facade exposed by the
// root package:
//
//	srv, _ := bitrunq.New(bitrunq.WithCores(8))
//	s := srv.Scheduler()
//	t := task.New("worker", task.DefaultPrio, cpuset.Set{})
//	s.Submit(t)
//	cur, _ := s.Schedule(0)
//
// For more details see the individual sub-package documentation and the
// runnable example under examples/scheduler.
package bitrunq
