// Package telemetry is the one-way statistics boundary of the scheduler.
// Cores emit per-event counters (wait time, run time, wakeup latency) as
// best-effort, non-blocking notifications with no feedback into scheduling
// decisions, and an OpenTelemetry wrapper provides spans around scheduling
// milestones. Instrumentation is kept in a separate package so that hosts
// which do not require it pay one atomic load per event.
package telemetry
